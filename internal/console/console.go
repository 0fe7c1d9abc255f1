package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	prompt "github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"

	"github.com/nerrad567/devicelink/internal/dispatch"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelink/internal/manager"
)

// DefaultPrompt is used when Options.Prompt is empty.
const DefaultPrompt = "devicelink> "

// stampLayout matches the timestamps the operator sees in the audit log.
const stampLayout = "2006-01-02 15:04:05"

const usage = `commands:
  <device> <n>        send n to device (e.g. esp32_1 7)
  <index> <n>         send n to the index-th device (e.g. 1 7)
  send <device> <n>   same as <device> <n>
  status              connection, last values and log counts
  devices             list devices with their index
  connect             connect to the broker
  disconnect          disconnect from the broker
  help                show this text
  quit                exit
n must be between %d and %d.
`

// Facade is the part of the manager the console drives.
type Facade interface {
	Connect(ctx context.Context) error
	Disconnect()
	SendText(ctx context.Context, deviceID, raw string) (dispatch.Command, error)
	Devices() []manager.DeviceStatus
	ConnectionState() mqtt.ConnectionState
	Stats() manager.Stats
}

// Options configures a Console.
type Options struct {
	Prompt string
	Out    io.Writer
}

// Console is an operator command line over the manager.
type Console struct {
	facade Facade
	out    io.Writer
	prefix string
	quit   atomic.Bool
}

// New creates a console writing to opts.Out.
func New(facade Facade, opts Options) *Console {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Console{facade: facade, out: opts.Out, prefix: opts.Prompt}
}

// Run reads commands from in until quit, end of input or ctx is done.
// A terminal gets an interactive prompt with completion; anything else is
// read line by line, which makes the console scriptable.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	c.printf("type 'help' for commands\n")

	if f, ok := in.(interface{ Fd() uintptr }); ok && isatty.IsTerminal(f.Fd()) {
		p := prompt.New(
			func(line string) { c.Execute(ctx, line) },
			c.Complete,
			prompt.OptionPrefix(c.prefix),
			prompt.OptionTitle("devicelink"),
			prompt.OptionSetExitCheckerOnInput(func(_ string, breakline bool) bool {
				return breakline && (c.quit.Load() || ctx.Err() != nil)
			}),
		)
		p.Run()
		return nil
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if c.Execute(ctx, scanner.Text()) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading console input: %w", err)
	}
	return nil
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	words := strings.Fields(line)
	if len(words) == 0 {
		return c.quit.Load()
	}

	cmd := strings.ToLower(words[0])
	switch {
	case cmd == "quit" || cmd == "exit":
		c.quit.Store(true)
	case cmd == "help":
		c.printf(usage, dispatch.MinValue, dispatch.MaxValue)
	case cmd == "status":
		c.status()
	case cmd == "devices":
		c.devices()
	case cmd == "connect":
		c.connect(ctx)
	case cmd == "disconnect":
		c.facade.Disconnect()
		c.printf("disconnected\n")
	case cmd == "send":
		if len(words) != 3 {
			c.printf("Invalid format. Use: send <device> <number>\n")
			break
		}
		c.send(ctx, words[1], words[2])
	case len(words) == 2:
		c.send(ctx, words[0], words[1])
	default:
		c.printf("Unknown command. Type 'help' for commands or 'quit' to exit.\n")
	}
	return c.quit.Load()
}

// send resolves target as a device ID or a 1-based index.
func (c *Console) send(ctx context.Context, target, raw string) {
	id := c.resolve(target)
	cmd, err := c.facade.SendText(ctx, id, raw)
	if err != nil {
		c.printf("%s\n", dispatch.Message(err))
		return
	}
	c.printf("[%s] Sent to %s (%s): %s\n", cmd.SentAt.Format(stampLayout), cmd.DeviceID, cmd.Topic, cmd.Payload)
}

func (c *Console) resolve(target string) string {
	devices := c.facade.Devices()
	for _, d := range devices {
		if d.ID == target {
			return target
		}
	}
	if i, err := strconv.Atoi(target); err == nil && i >= 1 && i <= len(devices) {
		return devices[i-1].ID
	}
	return target
}

func (c *Console) connect(ctx context.Context) {
	if err := c.facade.Connect(ctx); err != nil {
		c.printf("connect failed: %v\n", err)
		return
	}
	c.printf("connected\n")
}

func (c *Console) status() {
	c.printf("connection: %s\n", c.facade.ConnectionState())
	for _, d := range c.facade.Devices() {
		value := "(none)"
		if d.LastValue != nil {
			value = *d.LastValue
			if d.LastValueAt != nil {
				value += " at " + d.LastValueAt.Format(stampLayout)
			}
		}
		c.printf("%s: %s, %d logged", d.ID, value, d.LogCount)
		if d.LastCommand != nil {
			c.printf(", last command %s (%s)", d.LastCommand.Payload, d.LastCommand.Status)
		}
		c.printf("\n")
	}
	st := c.facade.Stats()
	c.printf("routed %d, dropped %d, audit failures %d\n", st.Routed, st.Dropped, st.AuditFailures)
}

func (c *Console) devices() {
	for i, d := range c.facade.Devices() {
		c.printf("%d  %-12s in=%s out=%s\n", i+1, d.ID, d.InboundTopic, d.OutboundTopic)
	}
}

// Complete suggests commands and device IDs for the word before the cursor.
func (c *Console) Complete(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "send", Description: "send <device> <n>"},
		{Text: "status", Description: "connection and device state"},
		{Text: "devices", Description: "list devices"},
		{Text: "connect", Description: "connect to the broker"},
		{Text: "disconnect", Description: "disconnect from the broker"},
		{Text: "help", Description: "show commands"},
		{Text: "quit", Description: "exit"},
	}
	for i, dev := range c.facade.Devices() {
		suggests = append(suggests, prompt.Suggest{
			Text:        dev.ID,
			Description: fmt.Sprintf("device %d, values %d-%d", i+1, dispatch.MinValue, dispatch.MaxValue),
		})
	}
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
