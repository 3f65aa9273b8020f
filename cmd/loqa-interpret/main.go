package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-interpret/internal/bus"
	"github.com/loqalabs/loqa-interpret/internal/config"
	"github.com/loqalabs/loqa-interpret/internal/protocol"
	"github.com/nats-io/nats.go"
)

var version = "0.1.0-dev"

type globalFlags struct {
	server  string
	prefix  string
	timeout time.Duration
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.server, "server", nats.DefaultURL, "NATS server URL")
	fs.StringVar(&g.prefix, "prefix", "interpret", "Bridge subject prefix")
	fs.DurationVar(&g.timeout, "timeout", 30*time.Second, "Request timeout")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "translate":
		err = runTranslate(os.Args[2:])
	case "start":
		err = runStart(os.Args[2:])
	case "stop":
		err = runStop(os.Args[2:])
	case "languages":
		err = runLanguages(os.Args[2:])
	case "watch":
		err = runWatch(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: loqa-interpret <translate|start|stop|languages|watch|version> [flags]")
}

func connect(g globalFlags) (*bus.Client, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg := config.BusConfig{Servers: []string{g.server}, ConnectTimeout: 2000}
	return bus.Connect(context.Background(), "loqa-interpret-cli", cfg, logger)
}

func request(g globalFlags, suffix string, req, reply any) error {
	client, err := connect(g)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	return client.Request(ctx, g.prefix+"."+suffix, req, reply)
}

func runTranslate(args []string) error {
	var (
		g   globalFlags
		req protocol.TranslateRequest
	)
	fs := flag.NewFlagSet("translate", flag.ExitOnError)
	g.register(fs)
	fs.StringVar(&req.Source, "source", "", "Source language (defaults to the daemon's pair)")
	fs.StringVar(&req.Dest, "dest", "", "Destination language (defaults to the daemon's pair)")
	fs.BoolVar(&req.Speak, "speak", false, "Speak the translation on the daemon")
	fs.Parse(args)

	req.Text = strings.Join(fs.Args(), " ")
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("translate: no text given")
	}
	var reply protocol.TranslateReply
	if err := request(g, protocol.SubjectTextTranslate, req, &reply); err != nil {
		return err
	}
	if reply.Error != "" && reply.Translated == "" {
		return fmt.Errorf("translate: %s", reply.Error)
	}
	fmt.Println(reply.Translated)
	return nil
}

func runStart(args []string) error {
	var (
		g        globalFlags
		req      protocol.SessionStart
		reverse  bool
		partials bool
	)
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	g.register(fs)
	fs.StringVar(&req.SessionID, "id", "", "Session ID (generated when empty)")
	fs.StringVar(&req.Source, "source", "", "Source language")
	fs.StringVar(&req.Dest, "dest", "", "Destination language")
	fs.BoolVar(&reverse, "reverse", false, "Listen for the destination language and answer in the source")
	fs.BoolVar(&partials, "partials", true, "Publish partial transcripts")
	fs.Parse(args)

	req.Direction = protocol.DirectionForward
	if reverse {
		req.Direction = protocol.DirectionReverse
	}
	req.Partials = &partials

	var reply protocol.SessionReply
	if err := request(g, protocol.SubjectSessionStart, req, &reply); err != nil {
		return err
	}
	if reply.Error != "" {
		return fmt.Errorf("start: %s", reply.Error)
	}
	fmt.Printf("%s %s (%s -> %s)\n", reply.SessionID, reply.State, reply.Source, reply.Dest)
	return nil
}

func runStop(args []string) error {
	var (
		g   globalFlags
		req protocol.SessionStop
	)
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	g.register(fs)
	fs.StringVar(&req.SessionID, "id", "", "Session ID (the active session when empty)")
	fs.Parse(args)

	var reply protocol.SessionReply
	if err := request(g, protocol.SubjectSessionStop, req, &reply); err != nil {
		return err
	}
	if reply.Error != "" {
		return fmt.Errorf("stop: %s", reply.Error)
	}
	fmt.Printf("%s %s\n", reply.SessionID, reply.State)
	return nil
}

func runLanguages(args []string) error {
	var (
		g   globalFlags
		req protocol.Languages
	)
	fs := flag.NewFlagSet("languages", flag.ExitOnError)
	g.register(fs)
	fs.StringVar(&req.Source, "source", "", "Source language")
	fs.StringVar(&req.Dest, "dest", "", "Destination language")
	fs.Parse(args)

	var reply protocol.Languages
	if err := request(g, protocol.SubjectSessionLanguages, req, &reply); err != nil {
		return err
	}
	fmt.Printf("%s -> %s\n", reply.Source, reply.Dest)
	return nil
}

func runWatch(args []string) error {
	var g globalFlags
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	g.register(fs)
	fs.Parse(args)

	client, err := connect(g)
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := client.Conn().Subscribe(g.prefix+".>", func(msg *nats.Msg) {
		if msg.Reply != "" {
			return
		}
		fmt.Printf("%s %s\n", strings.TrimPrefix(msg.Subject, g.prefix+"."), msg.Data)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}
