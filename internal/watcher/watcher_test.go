package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"tugboat-agent/internal/model"
	"tugboat-agent/internal/stream"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gleak"
)

var _ = Describe("Watcher", func() {

	var (
		cmds      *fakeFactory
		sink      *recordingSink
		inspector fakeInspector
		w         *Watcher
	)

	BeforeEach(func() {
		goodgos := Goroutines()
		DeferCleanup(func() {
			Eventually(Goroutines).WithTimeout(goroutinesUnwindTimeout).WithPolling(goroutinesUnwindPolling).
				ShouldNot(HaveLeaked(goodgos))
		})

		cmds = newFakeFactory()
		sink = &recordingSink{}
		inspector = fakeInspector{containers: map[string]model.InspectedContainer{
			"c1": {
				ID: "c1", Name: "/api", Image: "ghcr.io/acme/api:2.1", State: "created",
				Created: "2024-05-01T10:00:00Z",
				Env:     []string{"SERVERSINC_APPLICATION_ID=app-7", "SERVERSINC_DEPLOYMENT_ID=dep-3"},
			},
		}}
		w = New(discardLogger(), cmds, sink, inspector, Options{Backoff: 30 * time.Millisecond})
		DeferCleanup(func() {
			_ = w.Shutdown(context.Background())
		})
	})

	started := func() *fakeProc {
		var p *fakeProc
		EventuallyWithOffset(1, cmds.spawned).Should(Receive(&p))
		return p
	}

	It("spawns the event stream once", func() {
		Expect(w.State()).To(Equal(Stopped))
		w.Start()
		p := started()
		Expect(p.args).To(Equal([]string{"docker", "events", "--format", "{{json .}}"}))
		Expect(w.State()).To(Equal(Running))

		w.Start()
		Consistently(cmds.spawned, "60ms").ShouldNot(Receive())
	})

	It("forwards container events in arrival order regardless of chunking", func() {
		w.Start()
		p := started()

		first := eventLine("container", "start", "a1", "name", "web")
		second := eventLine("container", "die", "a2", "exitCode", "0")
		third := eventLine("container", "destroy", "a3")
		p.emit(first[:10], first[10:]+second[:5], second[5:], third)

		Eventually(sink.Events).Should(HaveLen(3))
		evs := sink.Events()
		Expect(evs[0]).To(Equal(model.ForwardedEvent{
			Event: "start", Type: "container", ID: "a1",
			Attributes: map[string]string{"name": "web"},
		}))
		Expect(evs[1].ID).To(Equal("a2"))
		Expect(evs[2].ID).To(Equal("a3"))
	})

	It("drops filtered events silently", func() {
		w.Start()
		p := started()
		p.emit(
			eventLine("container", "stop", "s1"),
			eventLine("container", "kill", "k1", "signal", "15"),
			eventLine("image", "pull", "nginx:latest"),
			eventLine("network", "connect", "n1"),
			eventLine("container", "start", "ok"),
		)
		Eventually(sink.Events).Should(HaveLen(1))
		Consistently(sink.Events, "50ms").Should(HaveLen(1))
		Expect(sink.Events()[0].ID).To(Equal("ok"))
		Expect(w.Stats().Dropped).To(Equal(uint64(4)))
	})

	It("skips malformed and blank lines without affecting the next", func() {
		w.Start()
		p := started()
		p.emit("\n", "   \n", "{not json\n", eventLine("container", "start", "after"))
		Eventually(sink.Events).Should(HaveLen(1))
		Expect(sink.Events()[0].ID).To(Equal("after"))
		Expect(w.Stats().Malformed).To(Equal(uint64(1)))
		Expect(w.Stats().Parsed).To(Equal(uint64(1)))
	})

	It("never processes an unterminated line", func() {
		w.Start()
		p := started()
		line := eventLine("container", "start", "partial")
		p.emit(line[:len(line)-1])
		Consistently(sink.Events, "60ms").Should(BeEmpty())
		p.emit("\n")
		Eventually(sink.Events).Should(HaveLen(1))
	})

	It("enriches create events with the container descriptor", func() {
		w.Start()
		p := started()
		p.emit(eventLine("container", "create", "c1", "image", "ghcr.io/acme/api:2.1"))

		Eventually(sink.Events).Should(HaveLen(1))
		desc, ok := sink.Events()[0].Attributes.(model.ContainerDescriptor)
		Expect(ok).To(BeTrue())
		Expect(desc.ID).To(Equal("c1"))
		Expect(desc.Name).To(Equal("api"))
		Expect(desc.Image).To(Equal("ghcr.io/acme/api"))
		Expect(desc.Tag).To(Equal("2.1"))
		Expect(*desc.ApplicationID).To(Equal("app-7"))
		Expect(desc.EnvironmentID).To(BeNil())
		Expect(*desc.DeploymentID).To(Equal("dep-3"))
	})

	It("forwards raw attributes when inspection fails", func() {
		w.Start()
		p := started()
		p.emit(eventLine("container", "create", "gone", "name", "tmp"))
		Eventually(sink.Events).Should(HaveLen(1))
		Expect(sink.Events()[0].Attributes).To(Equal(map[string]string{"name": "tmp"}))
	})

	It("keeps going after a failed post", func() {
		sink.failWith(errors.New("connection refused"))
		w.Start()
		p := started()
		p.emit(eventLine("container", "start", "x1"), eventLine("container", "start", "x2"))
		Eventually(func() uint64 { return w.Stats().Failed }).Should(Equal(uint64(2)))
		Expect(sink.Events()).To(HaveLen(2))
		Expect(w.State()).To(Equal(Running))
	})

	It("restarts after the process exits", func() {
		w.Start()
		p := started()
		p.exit()
		Eventually(w.State).Should(Equal(AwaitingRestart))

		next := started()
		Expect(next).NotTo(BeIdenticalTo(p))
		Eventually(w.State).Should(Equal(Running))
		Expect(w.Stats().Restarts).To(Equal(uint64(1)))

		next.emit(eventLine("container", "start", "again"))
		Eventually(sink.Events).Should(HaveLen(1))
	})

	It("does not restart after Stop", func() {
		w.Start()
		p := started()
		w.Stop()
		Expect(p.wasKilled()).To(BeTrue())
		Expect(w.State()).To(Equal(Stopped))
		Consistently(cmds.spawned, "120ms").ShouldNot(Receive())
		Expect(w.State()).To(Equal(Stopped))
	})

	It("cancels a pending restart on Stop", func() {
		w.Start()
		started().exit()
		Eventually(w.State).Should(Equal(AwaitingRestart))
		w.Stop()
		Consistently(cmds.spawned, "120ms").ShouldNot(Receive())
		Expect(w.State()).To(Equal(Stopped))
	})

	It("starts immediately when asked while awaiting a restart", func() {
		w = New(discardLogger(), cmds, sink, inspector, Options{Backoff: time.Hour})
		w.Start()
		started().exit()
		Eventually(w.State).Should(Equal(AwaitingRestart))
		w.Start()
		started()
		Expect(w.State()).To(Equal(Running))
	})

	It("retries after a failed spawn", func() {
		cmds.failNext(1)
		w.Start()
		Expect(w.State()).To(Equal(AwaitingRestart))
		started()
		Eventually(w.State).Should(Equal(Running))
	})

	It("restarts with a fresh line buffer", func() {
		w.Start()
		p := started()
		p.emit(`{"Type":"container","Action":"st`)
		w.Restart()
		next := started()
		next.emit(eventLine("container", "start", "fresh"))
		Eventually(sink.Events).Should(HaveLen(1))
		Expect(w.Stats().Malformed).To(BeZero())
	})

	It("drains parsed events on shutdown and refuses to start again", func() {
		w.Start()
		p := started()
		p.emit(eventLine("container", "start", "d1"), eventLine("container", "start", "d2"))
		Expect(w.Shutdown(context.Background())).To(Succeed())
		Expect(sink.Events()).To(HaveLen(2))
		Expect(w.Shutdown(context.Background())).To(MatchError(ErrStopped))

		w.Start()
		Consistently(cmds.spawned, "50ms").ShouldNot(Receive())
		Expect(w.State()).To(Equal(Stopped))
	})

	It("shuts down cleanly when never started", func() {
		Expect(w.Shutdown(context.Background())).To(Succeed())
	})

	It("runs until the context ends", func() {
		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- w.Run(ctx, time.Second) }()
		p := started()
		cancel()
		Eventually(errc).Should(Receive(BeNil()))
		Expect(p.wasKilled()).To(BeTrue())
	})

})

var _ = Describe("forwarding to the phone-home endpoint", func() {

	It("posts one docker_event for a start and stop pair", func() {
		var (
			mu     sync.Mutex
			bodies [][]byte
		)
		server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, body)
			mu.Unlock()
			rw.WriteHeader(http.StatusOK)
		}))
		DeferCleanup(server.Close)

		sink := stream.NewHTTPClient(stream.HTTPOptions{BaseURL: server.URL}, nil, discardLogger())
		cmds := newFakeFactory()
		w := New(discardLogger(), cmds, sink, nil, Options{})
		DeferCleanup(func() { _ = w.Shutdown(context.Background()) })

		w.Start()
		var p *fakeProc
		Eventually(cmds.spawned).Should(Receive(&p))
		p.emit(eventLine("container", "start", "abc", "name", "web") +
			eventLine("container", "stop", "abc", "name", "web"))

		Expect(w.Shutdown(context.Background())).To(Succeed())
		mu.Lock()
		defer mu.Unlock()
		Expect(bodies).To(HaveLen(1))

		var got map[string]any
		Expect(json.Unmarshal(bodies[0], &got)).To(Succeed())
		Expect(got).To(Equal(map[string]any{
			"type": "docker_event",
			"payload": map[string]any{
				"event":      "start",
				"type":       "container",
				"id":         "abc",
				"attributes": map[string]any{"name": "web"},
			},
		}))
	})

})
