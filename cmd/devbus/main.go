// devbus is the host tool of the light example. It joins the bus over the
// UDP bridge, prints device churn, binds the first light and follows its
// change log.
//
// Usage:
//
//	devbus [options]
//	devbus --replay capture.cbor
//
// Options:
//
//	-c, --config     TOML config file
//	--id             device identifier, hex (default: random)
//	--listen         UDP bridge listen address (default: :5580)
//	--peer           static bridge peer host[:port] (repeatable)
//	--segment        bus segment name (default: "default")
//	--mdns           advertise and discover bridges (default: true)
//	--capture        write a CBOR traffic capture to this file
//	--intensity      switch the bound light on at this intensity
//	--replay         print a capture and exit
//
// Example:
//
//	devbus --segment lab --capture lab.cbor --intensity 1200
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/backkem/devbus/examples/common"
	"github.com/backkem/devbus/examples/controller"
	"github.com/backkem/devbus/pkg/monitor"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.CommandLine
	flags := common.AddFlags(fs, common.DefaultOptions())
	intensity := fs.Uint16("intensity", 0, "switch the bound light on at this intensity")
	replay := fs.String("replay", "", "print a capture and exit")
	pflag.Parse()

	if *replay != "" {
		if err := dump(*replay); err != nil {
			log.Fatalf("replay: %v", err)
		}
		return
	}

	opts, err := flags.Options()
	if err != nil {
		log.Fatalf("options: %v", err)
	}
	lf := common.NewLoggerFactory(opts)
	bridge := common.NewBridge(opts, lf)

	ctrlOpts := controller.Options{
		DeviceID:      opts.DeviceID,
		Description:   opts.Description,
		Link:          bridge.Link,
		LoggerFactory: lf,
	}
	if opts.Capture != "" {
		f, err := os.Create(opts.Capture)
		if err != nil {
			log.Fatalf("capture: %v", err)
		}
		defer f.Close()
		ctrlOpts.Capture = f
	}

	ctrl, err := controller.New(ctrlOpts)
	if err != nil {
		log.Fatalf("controller: %v", err)
	}
	if err := ctrl.Start(); err != nil {
		log.Fatalf("start: %v", err)
	}
	defer ctrl.Stop()

	ctx, cancel := common.SignalContext()
	defer cancel()
	if err := bridge.StartDiscovery(ctx); err != nil {
		log.Printf("mdns disabled: %v", err)
	}
	defer bridge.Close()

	common.PrintBanner("devbus host", opts, bridge.UDP().LocalAddr())

	if fs.Changed("intensity") {
		go drive(ctrl, *intensity)
	}

	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "\nshutting down")
}

// drive waits for a binding, then switches the light on.
func drive(ctrl *controller.Controller, intensity uint16) {
	for ctrl.IsStarted() {
		if _, _, ok := ctrl.Client().Bound(); ok {
			if err := ctrl.SetIntensity(intensity); err != nil {
				log.Printf("set intensity: %v", err)
				return
			}
			if err := ctrl.SetEnabled(true); err != nil {
				log.Printf("enable: %v", err)
			}
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func dump(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rd, err := monitor.NewReader(f)
	if err != nil {
		return err
	}
	h := rd.Header()
	fmt.Printf("capture v%d host=%016x started=%s\n", h.Version, h.Host, time.Unix(0, h.Started).UTC().Format(time.RFC3339))
	n, err := monitor.Replay(rd, func(r *monitor.Record) error {
		fmt.Println(r)
		return nil
	})
	fmt.Printf("%d records\n", n)
	return err
}
