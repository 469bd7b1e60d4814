// Command fwupload is the host-side CLI for the firmware upload protocol
// (spec §6). It is a thin, non-core convenience wrapper around
// pkg/uploader: argument parsing, port listing, and reporting the
// result. All protocol logic lives in pkg/uploader and pkg/transport.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/librescoot/fwupload/pkg/telemetry"
	"github.com/librescoot/fwupload/pkg/transport"
	"github.com/librescoot/fwupload/pkg/uploader"
)

var (
	portFlag    = flag.String("p", "", "Serial port device (also --port)")
	portFlagLong = flag.String("port", "", "Serial port device")
	baudFlag    = flag.Int("b", uploader.DefaultBaud, "Baud rate (also --baud)")
	baudFlagLong = flag.Int("baud", uploader.DefaultBaud, "Baud rate")
	verboseFlag = flag.Bool("v", false, "Verbose logging of each stage and ACK; payload bytes are not logged (also --verbose)")
	verboseFlagLong = flag.Bool("verbose", false, "Verbose logging of each stage and ACK; payload bytes are not logged")
	listFlag    = flag.Bool("l", false, "List available serial ports (also --list)")
	listFlagLong = flag.Bool("list", false, "List available serial ports")

	redisAddr = flag.String("redis-addr", "", "Redis address for session telemetry (optional)")
	redisPass = flag.String("redis-pass", "", "Redis password")
	redisDB   = flag.Int("redis-db", 0, "Redis database number")
)

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstSet(a, b int, def int) int {
	if a != def {
		return a
	}
	return b
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	flag.Parse()

	list := *listFlag || *listFlagLong
	if list {
		ports, err := transport.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: fwupload -p <port> [-b <baud>] [-v] <firmware.bin>")
		os.Exit(1)
	}
	firmwarePath := args[0]

	port := firstNonEmpty(*portFlag, *portFlagLong)
	if port == "" {
		fmt.Fprintln(os.Stderr, "error: -p/--port is required")
		os.Exit(1)
	}
	baud := firstSet(*baudFlag, *baudFlagLong, uploader.DefaultBaud)
	verbose := *verboseFlag || *verboseFlagLong

	image, err := os.ReadFile(firmwarePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading %s: %v\n", firmwarePath, err)
		os.Exit(1)
	}

	opts := uploader.Options{
		Port:    port,
		Baud:    baud,
		Verbose: verbose,
	}

	var pub *telemetry.Publisher
	if *redisAddr != "" {
		pub, err = telemetry.New(*redisAddr, *redisPass, *redisDB)
		if err != nil {
			log.Printf("telemetry disabled: %v", err)
		} else {
			defer pub.Close()
			opts.Telemetry = pub
			opts.SessionID = fmt.Sprintf("%s:%s", port, firmwarePath)
		}
	}

	log.Printf("Uploading %s to %s at %d baud (%d bytes)", firmwarePath, port, baud, len(image))

	result, err := uploader.Upload(opts, image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("upload successful: %d bytes, crc=0x%08x\n", result.BytesSent, result.HostCRC)
}
