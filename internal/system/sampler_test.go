package system

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"tugboat-agent/internal/model"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const dfOutput = `Filesystem     Type  Size  Used Avail Use% Mounted on
/dev/sda1      ext4   98G   41G   53G  44% /
/dev/sdb1      xfs   1.8T  600G  1.2T  33% /mnt/my data
overlay        overlay
`

var _ = Describe("host sampler", func() {

	var cmds *fakeFactory

	BeforeEach(func() {
		cmds = &fakeFactory{
			outputs: map[string]string{
				"ip": "default via 10.0.0.1 dev eth0 proto dhcp src 10.0.0.5 metric 100\n",
				"df": dfOutput,
			},
			errs: map[string]error{},
		}
	})

	Context("default interface", func() {

		DescribeTable("parsing default route output",
			func(out string, iface string, ok bool) {
				got, found := ParseDefaultInterface(out)
				Expect(found).To(Equal(ok))
				Expect(got).To(Equal(iface))
			},
			Entry("dhcp route", "default via 192.168.1.1 dev wlp2s0 proto dhcp metric 600", "wlp2s0", true),
			Entry("multiple spaces", "default via 10.0.0.1 dev   ens3", "ens3", true),
			Entry("no route", "", "", false),
			Entry("garbage", "unreachable default", "", false),
		)

		It("probes once at construction", func() {
			s := NewSampler(context.Background(), cmds, procFixture(nil), discardLogger())
			Expect(s.Interface()).To(Equal("eth0"))
			Expect(cmds.calls).To(ConsistOf("ip route show default"))
		})

		It("leaves network metrics unavailable when route detection fails", func() {
			cmds.errs["ip"] = errNoRoute
			root := procFixture(map[string]string{
				"net/dev": netDev("  eth0: 100 1 0 0 0 0 0 0 200 2 0 0 0 0 0 0"),
			})
			s := NewSampler(context.Background(), cmds, root, discardLogger())
			Expect(s.Interface()).To(BeEmpty())
			n, err := s.Network()
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeNil())
			n, err = s.Network()
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeNil())
			Expect(cmds.calls).To(HaveLen(1))
		})

	})

	Context("network throughput", func() {

		It("reports no delta first, then exact deltas", func() {
			root := procFixture(map[string]string{
				"net/dev": netDev(
					"    lo: 999 9 0 0 0 0 0 0 999 9 0 0 0 0 0 0",
					"  eth0: 1000 10 0 0 0 0 0 0 2000 20 0 0 0 0 0 0"),
			})
			s := NewSampler(context.Background(), cmds, root, discardLogger())

			first, err := s.Network()
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(Equal(&model.NetworkUsage{
				Iface: "eth0",
				Total: model.NetworkTotals{RX: 1000, TX: 2000},
			}))

			Expect(os.WriteFile(filepath.Join(root, "net", "dev"), []byte(netDev(
				"  eth0: 1500 15 0 0 0 0 0 0 2300 23 0 0 0 0 0 0")), 0o644)).To(Succeed())
			second, err := s.Network()
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Deltas).To(Equal(&model.NetworkDelta{RXDelta: 500, TXDelta: 300}))
			Expect(second.Total).To(Equal(model.NetworkTotals{RX: 1500, TX: 2300}))
		})

		It("keeps negative deltas after a counter reset", func() {
			root := procFixture(map[string]string{
				"net/dev": netDev("  eth0: 1000 10 0 0 0 0 0 0 2000 20 0 0 0 0 0 0"),
			})
			s := NewSampler(context.Background(), cmds, root, discardLogger())
			_, err := s.Network()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.WriteFile(filepath.Join(root, "net", "dev"), []byte(netDev(
				"  eth0: 10 1 0 0 0 0 0 0 20 2 0 0 0 0 0 0")), 0o644)).To(Succeed())
			n, err := s.Network()
			Expect(err).NotTo(HaveOccurred())
			Expect(n.Deltas).To(Equal(&model.NetworkDelta{RXDelta: -990, TXDelta: -1980}))
		})

		It("parses rows where the counter touches the colon", func() {
			root := procFixture(map[string]string{
				"net/dev": netDev("eth0:123456789 10 0 0 0 0 0 0 987654321 20 0 0 0 0 0 0"),
			})
			totals, ok, err := ReadInterfaceCounters(root, "eth0")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(totals).To(Equal(model.NetworkTotals{RX: 123456789, TX: 987654321}))
		})

		It("returns no sample when the interface row is missing", func() {
			root := procFixture(map[string]string{
				"net/dev": netDev("  wlan0: 1 1 0 0 0 0 0 0 2 2 0 0 0 0 0 0"),
			})
			s := NewSampler(context.Background(), cmds, root, discardLogger())
			n, err := s.Network()
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeNil())
		})

		It("does not match interfaces sharing a prefix", func() {
			root := procFixture(map[string]string{
				"net/dev": netDev("  eth01: 1 1 0 0 0 0 0 0 2 2 0 0 0 0 0 0"),
			})
			_, ok, err := ReadInterfaceCounters(root, "eth0")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

	})

	Context("disk usage", func() {

		It("maps columns by position", func() {
			rows := ParseDiskUsage(dfOutput)
			Expect(rows).To(HaveLen(3))
			Expect(rows[0]).To(Equal(model.DiskUsageRow{
				Source: "/dev/sda1", FSType: "ext4", Size: "98G", Used: "41G",
				Avail: "53G", PCent: "44%", Target: "/",
			}))
			Expect(rows[1].Target).To(Equal("/mnt/my data"))
		})

		It("tolerates short rows", func() {
			rows := ParseDiskUsage(dfOutput)
			Expect(rows[2]).To(Equal(model.DiskUsageRow{Source: "overlay", FSType: "overlay"}))
		})

		It("keeps the data under a translated header", func() {
			rows := ParseDiskUsage("Dateisystem Typ Größe Benutzt Verf. Verw% Eingehängt auf\n" +
				"/dev/sda1 ext4 50G 20G 28G 42% /\n")
			Expect(rows).To(Equal([]model.DiskUsageRow{{
				Source: "/dev/sda1", FSType: "ext4", Size: "50G", Used: "20G",
				Avail: "28G", PCent: "42%", Target: "/",
			}}))
		})

		It("returns an empty list for header-only or empty output", func() {
			Expect(ParseDiskUsage("")).To(BeEmpty())
			Expect(ParseDiskUsage("Filesystem Type Size Used Avail Use% Mounted on\n")).To(BeEmpty())
		})

		It("runs df without tmpfs filesystems", func() {
			s := NewSampler(context.Background(), cmds, procFixture(nil), discardLogger())
			rows, err := s.Disk(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(3))
			Expect(cmds.calls).To(ContainElement(
				"df -h --output=source,fstype,size,used,avail,pcent,target -x tmpfs -x devtmpfs"))
			Expect(cmds.envs["df"]).To(ContainElement("LC_ALL=C"))
		})

		It("reports df failures", func() {
			cmds.errs["df"] = errNoRoute
			s := NewSampler(context.Background(), cmds, procFixture(nil), discardLogger())
			_, err := s.Disk(context.Background())
			Expect(err).To(MatchError(ContainSubstring("df")))
		})

	})

	Context("usage", func() {

		It("rounds memory up to megabytes and uptime down to minutes", func() {
			root := procFixture(map[string]string{
				"loadavg": "0.42 0.30 0.10 1/123 4567\n",
				"meminfo": "MemTotal:        2048001 kB\nMemFree:          100000 kB\nMemAvailable:    1048576 kB\n",
				"uptime":  "3599.99 7000.00\n",
			})
			s := NewSampler(context.Background(), cmds, root, discardLogger())
			u, err := s.Usage()
			Expect(err).NotTo(HaveOccurred())
			Expect(u.CPU).To(Equal(model.CPUUsage{Cores: runtime.NumCPU(), Load: 0.42}))
			Expect(u.Memory).To(Equal(model.MemoryUsage{Total: 2001, Free: 1024}))
			Expect(u.UptimeMinutes).To(Equal(uint64(59)))
		})

		It("falls back to MemFree on old kernels", func() {
			root := procFixture(map[string]string{
				"meminfo": "MemTotal: 1024 kB\nMemFree: 512 kB\n",
			})
			info, err := ReadMemoryInfo(root)
			Expect(err).NotTo(HaveOccurred())
			Expect(info).To(Equal(MemoryInfo{TotalBytes: 1024 * 1024, FreeBytes: 512 * 1024}))
		})

		It("fails on a missing procfs file", func() {
			s := NewSampler(context.Background(), cmds, procFixture(nil), discardLogger())
			_, err := s.Usage()
			Expect(err).To(HaveOccurred())
		})

	})

})
