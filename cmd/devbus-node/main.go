// devbus-node is a peripheral hosting the example light service on the
// UDP bridge.
//
// Usage:
//
//	devbus-node [options]
//
// Options:
//
//	-c, --config     TOML config file
//	--id             device identifier, hex (default: random)
//	--listen         UDP bridge listen address (default: :5580)
//	--peer           static bridge peer host[:port] (repeatable)
//	--segment        bus segment name (default: "default")
//	--mdns           advertise and discover bridges (default: true)
//	--variant        light variant: bulb or strip
//	--max-intensity  intensity limit
//
// Example:
//
//	devbus-node --listen :5581 --peer 127.0.0.1:5580 --mdns=false
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/backkem/devbus/examples/common"
	"github.com/backkem/devbus/examples/light"
	"github.com/backkem/devbus/pkg/client"
	"github.com/spf13/pflag"
)

func main() {
	defaults := common.DefaultOptions()
	defaults.Description = "devbus light"
	fs := pflag.CommandLine
	flags := common.AddFlags(fs, defaults)
	variant := fs.String("variant", "bulb", "light variant: bulb or strip")
	maxIntensity := fs.Uint16("max-intensity", 0xffff, "intensity limit")
	pflag.Parse()

	opts, err := flags.Options()
	if err != nil {
		log.Fatalf("options: %v", err)
	}

	var v uint8
	switch *variant {
	case "bulb":
		v = light.VariantBulb
	case "strip":
		v = light.VariantStrip
	default:
		log.Fatalf("unknown variant %q", *variant)
	}

	lf := common.NewLoggerFactory(opts)
	bridge := common.NewBridge(opts, lf)

	c, err := client.New(client.Config{
		DeviceID:      opts.DeviceID,
		Description:   opts.Description,
		Link:          bridge.Link,
		LoggerFactory: lf,
	})
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	if _, err := c.Register(light.New(light.Config{
		Variant:       v,
		MaxIntensity:  *maxIntensity,
		Outputs:       c.Outputs(),
		LoggerFactory: lf,
	})); err != nil {
		log.Fatalf("register light: %v", err)
	}
	if err := c.Start(); err != nil {
		log.Fatalf("start: %v", err)
	}
	defer c.Stop()

	ctx, cancel := common.SignalContext()
	defer cancel()
	if err := bridge.StartDiscovery(ctx); err != nil {
		log.Printf("mdns disabled: %v", err)
	}
	defer bridge.Close()

	common.PrintBanner("devbus light node", opts, bridge.UDP().LocalAddr())
	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "\nshutting down")
}
