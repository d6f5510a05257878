package demux

import (
	"bytes"
	"io"
	"strings"

	"github.com/docker/docker/pkg/stdcopy"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// frame builds one multiplexed frame by hand.
func frame(tag byte, payload string) []byte {
	n := len(payload)
	b := []byte{tag, 0, 0, 0, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	return append(b, payload...)
}

// engineStream produces frames the way the Docker engine does.
func engineStream(writes ...func(out, errOut io.Writer)) []byte {
	var buf bytes.Buffer
	out := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	errOut := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
	for _, w := range writes {
		w(out, errOut)
	}
	return buf.Bytes()
}

var _ = Describe("demultiplexing", func() {

	It("separates interleaved stdout and stderr frames", func() {
		buf := append(frame(1, "AB"), frame(2, "CD")...)
		stdout, stderr := Demultiplex(buf)
		Expect(stdout).To(Equal("AB"))
		Expect(stderr).To(Equal("CD"))
	})

	It("decodes frames written by the engine's own framer", func() {
		buf := engineStream(
			func(out, _ io.Writer) { _, _ = out.Write([]byte("hello ")) },
			func(_, errOut io.Writer) { _, _ = errOut.Write([]byte("oops\n")) },
			func(out, _ io.Writer) { _, _ = out.Write([]byte("world")) },
		)
		stdout, stderr := Demultiplex(buf)
		Expect(stdout).To(Equal("hello world"))
		Expect(stderr).To(Equal("oops\n"))
	})

	It("skips frames with unknown stream tags", func() {
		buf := append(frame(0, "stdin"), frame(1, "out")...)
		buf = append(buf, frame(3, "system")...)
		stdout, stderr := Demultiplex(buf)
		Expect(stdout).To(Equal("out"))
		Expect(stderr).To(BeEmpty())
	})

	DescribeTable("drops a truncated tail",
		func(tail []byte) {
			buf := append(frame(1, "AB"), frame(2, "CD")...)
			buf = append(buf, tail...)
			stdout, stderr := Demultiplex(buf)
			Expect(stdout).To(Equal("AB"))
			Expect(stderr).To(Equal("CD"))
		},
		Entry("mid-header", []byte{1, 0, 0}),
		Entry("complete header without payload", frame(1, "EFGH")[:8]),
		Entry("mid-payload", frame(1, "EFGH")[:10]),
	)

	It("returns empty output for empty input", func() {
		stdout, stderr := Demultiplex(nil)
		Expect(stdout).To(BeEmpty())
		Expect(stderr).To(BeEmpty())
	})

	It("handles zero length frames", func() {
		buf := append(frame(1, ""), frame(2, "x")...)
		stdout, stderr := Demultiplex(buf)
		Expect(stdout).To(BeEmpty())
		Expect(stderr).To(Equal("x"))
	})

})

var _ = Describe("streaming frames", func() {

	It("reads frames one by one and ends on a frame boundary", func() {
		r := NewReader(bytes.NewReader(append(frame(1, "AB"), frame(2, "CD")...)))
		f, err := r.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Stream).To(Equal(Stdout))
		Expect(f.Length).To(Equal(uint32(2)))
		Expect(string(f.Payload)).To(Equal("AB"))
		f, err = r.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Stream).To(Equal(Stderr))
		Expect(string(f.Payload)).To(Equal("CD"))
		_, err = r.Next()
		Expect(err).To(MatchError(io.EOF))
	})

	It("reports a frame cut short", func() {
		r := NewReader(bytes.NewReader(frame(1, "ABCD")[:10]))
		_, err := r.Next()
		Expect(err).To(MatchError(io.ErrUnexpectedEOF))
	})

	It("refuses a header announcing an oversized frame", func() {
		header := []byte{1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}
		r := NewReader(bytes.NewReader(append(header, "AB"...)))
		_, err := r.Next()
		Expect(err).To(MatchError(ErrFrameTooLarge))

		err = Copy(io.Discard, io.Discard, bytes.NewReader(header))
		Expect(err).To(MatchError(ErrFrameTooLarge))
	})

	It("accepts a frame of exactly the maximum length", func() {
		payload := strings.Repeat("x", MaxFrameLen)
		f, err := NewReader(bytes.NewReader(frame(2, payload))).Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Stream).To(Equal(Stderr))
		Expect(f.Payload).To(HaveLen(MaxFrameLen))
	})

	It("copies both streams to their writers", func() {
		var stdout, stderr bytes.Buffer
		src := engineStream(
			func(out, _ io.Writer) { _, _ = out.Write([]byte("line 1\n")) },
			func(_, errOut io.Writer) { _, _ = errOut.Write([]byte("warn\n")) },
			func(out, _ io.Writer) { _, _ = out.Write([]byte("line 2\n")) },
		)
		Expect(Copy(&stdout, &stderr, bytes.NewReader(src))).To(Succeed())
		Expect(stdout.String()).To(Equal("line 1\nline 2\n"))
		Expect(stderr.String()).To(Equal("warn\n"))
	})

	It("agrees with the buffered decoder", func() {
		src := append(frame(1, "a"), frame(2, "b")...)
		src = append(src, frame(1, "c")...)
		var stdout, stderr bytes.Buffer
		Expect(Copy(&stdout, &stderr, bytes.NewReader(src))).To(Succeed())
		wantOut, wantErr := Demultiplex(src)
		Expect(stdout.String()).To(Equal(wantOut))
		Expect(stderr.String()).To(Equal(wantErr))
	})

})

var _ = Describe("text cleanup", func() {

	It("strips color codes", func() {
		Expect(StripANSI("\x1B[31mHello\x1B[0m")).To(Equal("Hello"))
	})

	It("leaves plain text alone", func() {
		Expect(StripANSI("plain text")).To(Equal("plain text"))
	})

	It("collapses multi-line output into one line", func() {
		Expect(CollapseLines("  a  \n b\n\tc \n")).To(Equal("a b c"))
		Expect(CollapseLines(" single ")).To(Equal("single"))
	})

})
