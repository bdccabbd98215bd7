package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m4xw311/frend/agent"
	"github.com/m4xw311/frend/agent/acp"
	frendmcp "github.com/m4xw311/frend/agent/mcp"
	"github.com/m4xw311/frend/agent/terminal"
	"github.com/m4xw311/frend/config"
	"github.com/m4xw311/frend/errors"
	"github.com/m4xw311/frend/llm"
	"github.com/m4xw311/frend/logging"
	"github.com/m4xw311/frend/metrics"
	"github.com/m4xw311/frend/persona"
	"github.com/m4xw311/frend/preset"
	"github.com/m4xw311/frend/session"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

func newApp(in io.Reader, out io.Writer) *cli.App {
	chat := chatAction(in, out)
	return &cli.App{
		Name:    "frend",
		Usage:   "Chat with a cast of AI personas that answer one after another",
		Version: version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` after the home and project files",
			},
			&cli.StringFlag{Name: "llm", Usage: "Provider: openai, anthropic, gemini, bedrock, ollama or mock"},
			&cli.StringFlag{Name: "model", Usage: "Model name passed to the provider"},
			&cli.StringFlag{Name: "api-key", Usage: "API key, overriding the provider's environment variable"},
			&cli.StringFlag{Name: "log-level", Usage: "Diagnostic log level"},
			&cli.StringFlag{Name: "log-file", Usage: "Diagnostic log `FILE`"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on `ADDR`"},
		},
		Action: chat,
		Commands: []*cli.Command{
			{
				Name:      "chat",
				Usage:     "Interactive terminal chat (default)",
				ArgsUsage: "[first message]",
				Action:    chat,
			},
			{
				Name:   "acp",
				Usage:  "Serve the Agent Client Protocol on stdio",
				Action: acpAction(in, out),
			},
			{
				Name:   "mcp",
				Usage:  "Serve the conversation as MCP tools on stdio",
				Action: mcpAction,
			},
			{
				Name:      "preset",
				Usage:     "Generate a cast for a topic and print it as YAML",
				ArgsUsage: "<topic>",
				Action:    presetAction(out),
			},
		},
	}
}

// runtime holds everything built from configuration for one invocation.
type runtime struct {
	cfg      *config.Config
	log      zerolog.Logger
	logFile  io.Closer
	client   llm.LLMClient
	roster   persona.Roster
	settings agent.Settings
	metrics  *http.Server
}

func setup(c *cli.Context) (*runtime, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	override(&cfg.LLMClient, c.String("llm"))
	override(&cfg.Model, c.String("model"))
	override(&cfg.APIKey, c.String("api-key"))
	override(&cfg.LogLevel, c.String("log-level"))
	override(&cfg.LogFile, c.String("log-file"))
	override(&cfg.MetricsAddr, c.String("metrics-addr"))

	log, logFile, err := logging.Open(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: log, logFile: logFile}

	rt.roster, err = cfg.Roster()
	if err != nil {
		rt.Close()
		return nil, errors.Wrapf(err, "could not build roster")
	}

	client, err := llm.New(c.Context, llm.Options{
		Provider: cfg.LLMClient,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
	})
	if err != nil {
		rt.Close()
		return nil, errors.Wrapf(err, "could not initialize %s client", cfg.LLMClient)
	}
	if cfg.RateLimit > 0 {
		client = llm.RateLimited(client, cfg.RateLimit, cfg.RateBurst)
	}
	rt.client = llm.Instrumented(client, cfg.LLMClient, cfg.Model)

	rt.settings = agent.Settings{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}

	if cfg.MetricsAddr != "" {
		if err := rt.serveMetrics(cfg.MetricsAddr); err != nil {
			rt.Close()
			return nil, err
		}
	}

	log.Info().
		Str("provider", cfg.LLMClient).
		Str("model", cfg.Model).
		Int("agents", len(rt.roster.Agents)).
		Msg("frend started")
	return rt, nil
}

func (rt *runtime) serveMetrics(addr string) error {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return errors.Wrapf(err, "could not register metrics")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	rt.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := rt.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rt.log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	return nil
}

// newAgent starts a fresh session on a copy of the configured roster.
func (rt *runtime) newAgent() *agent.Agent {
	return agent.New(session.New(rt.roster.Clone()), rt.client, rt.settings, rt.log)
}

func (rt *runtime) presets() *preset.Generator {
	return &preset.Generator{LLMClient: rt.client}
}

func (rt *runtime) Close() {
	if rt.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rt.metrics.Shutdown(ctx)
	}
	if rt.logFile != nil {
		_ = rt.logFile.Close()
	}
}

func chatAction(in io.Reader, out io.Writer) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.Close()

		fmt.Fprintln(out, "frend is ready. Type a message, or /help for commands.")
		term := terminal.New(rt.newAgent(), rt.presets(), in, out, rt.log)
		if err := term.Run(c.Context, strings.Join(c.Args().Slice(), " ")); err != nil {
			return errors.Wrapf(err, "chat stopped")
		}
		return nil
	}
}

func acpAction(in io.Reader, out io.Writer) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := acp.Run(c.Context, rt.newAgent, bufio.NewReader(in), bufio.NewWriter(out), rt.log); err != nil {
			return errors.Wrapf(err, "ACP mode failed")
		}
		return nil
	}
}

func mcpAction(c *cli.Context) error {
	rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	server := frendmcp.NewServer(rt.newAgent(), rt.presets(), version, rt.log)
	if err := server.Run(c.Context, &mcp.StdioTransport{}); err != nil {
		return errors.Wrapf(err, "MCP server failed")
	}
	return nil
}

func presetAction(out io.Writer) cli.ActionFunc {
	return func(c *cli.Context) error {
		topic := strings.Join(c.Args().Slice(), " ")
		if strings.TrimSpace(topic) == "" {
			return errors.New("usage: frend preset <topic>")
		}
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.Close()

		p, err := rt.presets().Generate(c.Context, topic, rt.roster)
		if err != nil {
			return err
		}
		r := rt.roster.Clone()
		if err := p.Apply(&r); err != nil {
			return err
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(r)
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
