package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gocnc/host/mcu"
	"gocnc/host/serial"
)

var (
	device  = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud    = flag.Int("baud", 115200, "Baud rate (ignored for USB CDC)")
	file    = flag.String("file", "", "G-code file to stream, then exit")
	verbose = flag.Bool("verbose", false, "Print every acknowledged line")
)

func main() {
	flag.Parse()

	fmt.Println("gocnc host")
	fmt.Println("==========")

	board := mcu.NewMCU()
	board.OnMessage = func(msg string) { fmt.Println(msg) }

	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	fmt.Printf("Connecting to board on %s...\n", *device)
	if err := board.ConnectWithConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer board.Close()

	if *file != "" {
		if err := streamFile(board, *file); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("Enter g-code or a command (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		var err error
		switch parts[0] {
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return
		case "help":
			printHelp()
		case "status", "?":
			var s string
			if s, err = board.QueryStatus(time.Second); err == nil {
				fmt.Println(s)
			}
		case "hold", "!":
			err = board.Realtime('!')
		case "resume", "~":
			err = board.Realtime('~')
		case "reset":
			err = board.Realtime(0x18)
		case "stream":
			if len(parts) < 2 {
				err = fmt.Errorf("usage: stream <file>")
				break
			}
			err = streamFile(board, parts[1])
		default:
			if err = board.SendLine(line); err == nil {
				fmt.Println("ok")
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  <g-code>       - Send a line and wait for ok")
	fmt.Println("  $H / $X / $C   - Home, unlock, toggle check mode")
	fmt.Println("  status, ?      - Query a status report")
	fmt.Println("  hold, !        - Feed hold")
	fmt.Println("  resume, ~      - Resume from hold")
	fmt.Println("  reset          - Stop and discard queued motion")
	fmt.Println("  stream <file>  - Stream a g-code file")
	fmt.Println("  quit/exit/q    - Exit the program")
	fmt.Println()
}

func streamFile(board *mcu.MCU, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	lines := strings.Split(string(data), "\n")
	start := time.Now()
	err = board.Stream(lines, func(n int, line string) {
		if *verbose {
			fmt.Printf("[%d] %s\n", n, line)
		}
	})
	if err != nil {
		return err
	}
	fmt.Printf("Streamed %d lines in %s\n", len(lines), time.Since(start).Round(time.Millisecond))
	return nil
}
