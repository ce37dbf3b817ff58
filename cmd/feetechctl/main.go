// Command feetechctl is a thin operator client over the feetech bus
// transactor: bus scan, ping, ID change, and register read/write by name
// through the control table. It carries no
// protocol logic of its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/beam-bots/feetech"
)

func main() {
	var port string
	var baud int
	var timeout string
	var help bool

	flag.StringVar(&port, "port", "", "serial port device to open (e.g. /dev/ttyUSB0) [required]")
	flag.IntVar(&baud, "baud", 1_000_000, "bus baud rate in bps")
	flag.StringVar(&timeout, "timeout", "100ms", "per-transaction timeout")
	flag.BoolVar(&help, "help", false, "show a wall-of-text help message")
	flag.Parse()

	if help {
		displayHelp()
		os.Exit(0)
	}

	if port == "" {
		fmt.Println("no port specified, please use --port")
		os.Exit(1)
	}

	to, err := time.ParseDuration(timeout)
	if err != nil {
		fmt.Printf("failed to parse timeout %q: %v\n", timeout, err)
		os.Exit(1)
	}

	if len(flag.Args()) == 0 {
		fmt.Println("nothing to do.")
		os.Exit(0)
	}

	cfg := feetech.NewConfig(port, feetech.WithBaud(baud), feetech.WithTimeout(to))
	bus, err := cfg.Open(context.Background())
	if err != nil {
		fmt.Printf("failed to open bus: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	for _, arg := range flag.Args() {
		parts := strings.Split(arg, ":")
		switch parts[0] {
		case "scan":
			runScan(bus)
		case "ping":
			runPing(bus, parts[1:])
		case "read":
			runRead(bus, parts[1:])
		case "write":
			runWrite(bus, parts[1:])
		case "set-id":
			runSetID(bus, parts[1:])
		default:
			fmt.Printf("unsupported command %q\n", parts[0])
			os.Exit(2)
		}
	}
}

func runScan(bus *feetech.Bus) {
	fmt.Println("starting id scan")
	ctx := context.Background()
	var found int
	for id := 0; id < int(feetech.BroadcastID); id++ {
		status, err := bus.Ping(ctx, byte(id))
		if err != nil {
			continue
		}
		found++
		fmt.Printf("id %3d: responded (errors=%v, torque_enabled=%v)\n", id, status.Errors, status.TorqueEnabled)
	}
	fmt.Printf("found %d servo(s)\n", found)
}

func runPing(bus *feetech.Bus, args []string) {
	if len(args) < 1 {
		fmt.Println("ping needs at least an id: ping:<id>[:count[:interval]]")
		os.Exit(2)
	}
	id, err := parseID(args[0])
	if err != nil {
		fmt.Printf("bad id %q: %v\n", args[0], err)
		os.Exit(2)
	}

	count := 1
	if len(args) >= 2 {
		if count, err = strconv.Atoi(args[1]); err != nil {
			fmt.Printf("bad count %q: %v\n", args[1], err)
			os.Exit(2)
		}
	}

	var interval time.Duration
	if len(args) >= 3 {
		if interval, err = time.ParseDuration(args[2]); err != nil {
			fmt.Printf("bad interval %q: %v\n", args[2], err)
			os.Exit(2)
		}
	}

	ctx := context.Background()
	var ok, fail int
	for i := 0; i < count; i++ {
		start := time.Now()
		_, err := bus.Ping(ctx, id)
		rtt := time.Since(start)
		if err != nil {
			fail++
			fmt.Printf("seq=%d error: %v (time=%s)\n", i+1, err, rtt.Round(time.Microsecond))
		} else {
			ok++
			fmt.Printf("seq=%d ok (time=%s)\n", i+1, rtt.Round(time.Microsecond))
		}
		if interval > 0 {
			time.Sleep(interval)
		}
	}
	fmt.Printf("--- ping statistics ---\n%d replies, %d errors\n", ok, fail)
}

func runRead(bus *feetech.Bus, args []string) {
	if len(args) != 2 {
		fmt.Println("read needs an id and a register name: read:<id>:<register>")
		os.Exit(2)
	}
	id, err := parseID(args[0])
	if err != nil {
		fmt.Printf("bad id %q: %v\n", args[0], err)
		os.Exit(2)
	}

	value, err := bus.Read(context.Background(), id, args[1], feetech.Converted)
	if err != nil {
		fmt.Printf("read failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s = %v\n", args[1], value)
}

func runWrite(bus *feetech.Bus, args []string) {
	if len(args) != 3 {
		fmt.Println("write needs an id, register name and value: write:<id>:<register>:<value>")
		os.Exit(2)
	}
	id, err := parseID(args[0])
	if err != nil {
		fmt.Printf("bad id %q: %v\n", args[0], err)
		os.Exit(2)
	}

	value, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		fmt.Printf("bad value %q: %v\n", args[2], err)
		os.Exit(2)
	}

	status, err := bus.Write(context.Background(), id, args[1], value, feetech.Converted, true)
	if err != nil {
		fmt.Printf("write failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %v to %s (errors=%v)\n", value, args[1], status.Errors)
}

func runSetID(bus *feetech.Bus, args []string) {
	if len(args) != 2 {
		fmt.Println("set-id needs the current and new id: set-id:<old-id>:<new-id>")
		os.Exit(2)
	}
	oldID, err := parseID(args[0])
	if err != nil {
		fmt.Printf("bad id %q: %v\n", args[0], err)
		os.Exit(2)
	}
	newID, err := parseID(args[1])
	if err != nil {
		fmt.Printf("bad id %q: %v\n", args[1], err)
		os.Exit(2)
	}

	if _, err := bus.Write(context.Background(), oldID, "id", float64(newID), feetech.Converted, true); err != nil {
		fmt.Printf("set-id failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("servo %d is now id %d\n", oldID, newID)
}

func parseID(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}

func displayHelp() {
	flag.CommandLine.SetOutput(os.Stdout)
	fmt.Println(`feetechctl is a thin command-line client for probing and driving a Feetech servo bus.

Available options:`)
	flag.PrintDefaults()
	fmt.Print(`
Commands must be given as trailing arguments after any options.

* scan
  Ping every id from 0 to 253 in turn and report which ones respond.

* ping:<id>[:count[:interval]]
  Ping id, optionally repeated count times with interval between attempts.

* read:<id>:<register>
  Read register by name from id, decoded through the control table.

* write:<id>:<register>:<value>
  Write value (a float) to register by name on id, encoded through the
  control table.

* set-id:<old-id>:<new-id>
  Change a servo's id.

Example: feetechctl --port /dev/ttyUSB0 scan ping:1:5:100ms read:1:present_position
`)
}
