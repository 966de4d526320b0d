// Command llinfo prints the compute device, its memory types and the
// registered node builders.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/gogpu/nodegraph"
	"github.com/gogpu/nodegraph/driver"
	_ "github.com/gogpu/nodegraph/driver/wgpu"
	_ "github.com/gogpu/nodegraph/nodes/imgproc"
)

func main() {
	var (
		driverName = flag.String("driver", "", "driver name (default: best available)")
		config     = flag.String("config", "", "YAML session configuration")
		builder    = flag.String("builder", "", "print the help of one builder")
		verbose    = flag.Bool("v", false, "log at debug level")
	)
	flag.Parse()

	if *verbose {
		nodegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	s, err := openSession(*config, *driverName)
	if err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}
	defer s.Close()

	if *builder != "" {
		help, err := s.Help(*builder)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(help)
		return
	}

	printDevice(s)
	printBuilders(s)
}

func openSession(config, driverName string) (*nodegraph.Session, error) {
	var opts []nodegraph.Option
	if driverName != "" {
		opts = append(opts, nodegraph.WithDriver(driverName))
	}
	if config == "" {
		return nodegraph.NewSession(opts...)
	}
	cfg, err := nodegraph.LoadConfig(config)
	if err != nil {
		return nil, err
	}
	return nodegraph.NewSessionFromConfig(cfg, opts...)
}

func printDevice(s *nodegraph.Session) {
	info := s.Info()
	fmt.Printf("Device:   %s\n", info.Name)
	fmt.Printf("Driver:   %s (available: %v)\n", info.Driver, driver.Available())
	fmt.Printf("Workgroup: max %v, %d invocations\n", info.Limits.MaxWorkgroupSize, info.Limits.MaxWorkgroupInvocations)
	fmt.Printf("Max resource: %s\n", humanize.IBytes(info.Limits.MaxBufferSize))
	fmt.Printf("Debug:    %v\n\n", s.IsDebugEnabled())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tFLAGS\tHEAP")
	for i, mt := range s.MemoryTypes() {
		heap := "-"
		if mt.HeapSize != 0 {
			heap = humanize.IBytes(mt.HeapSize)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", i, mt.Flags, heap)
	}
	_ = w.Flush()
	fmt.Println()
}

func printBuilders(s *nodegraph.Session) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BUILDER\tKIND\tSUMMARY")
	for _, b := range s.Builders() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.Name, b.Kind, b.Summary)
	}
	_ = w.Flush()
}
