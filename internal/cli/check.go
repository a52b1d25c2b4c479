package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/doppelcheck/internal/model"
	"github.com/ppiankov/doppelcheck/internal/pipeline"
	"github.com/ppiankov/doppelcheck/internal/sidebar"
	"github.com/ppiankov/doppelcheck/internal/workflow"
)

var (
	outJSON      string
	outMD        string
	outHTML      string
	timeout      time.Duration
	stageTimeout time.Duration
	userAgent    string
	maxBytes     int64
	noCache      bool
	noFooter     bool
	noColor      bool
	noRobots     bool
	insecureTLS  bool
	readerMode   bool
	autoSources  bool
	crosscheck   bool
	interactive  bool
	httpProxy    string
	httpsProxy   string
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Check the keypoints of a single web page",
	Long: `Check fetches a web page and streams it to the Doppelcheck server:
- Keypoints are extracted and their quotes highlighted in the page
- Sources are searched for each keypoint
- Each source can be cross-checked and rated against its keypoint

Without --interactive every keypoint gets a source search and, with
--crosscheck, every retrievable source is rated. With --interactive the
stages are triggered by commands typed on stdin.

Example:
  doppelcheck check https://example.com/article
  doppelcheck check https://example.com/article --crosscheck --json report.json --md report.md
  doppelcheck check https://example.com/article --interactive --html annotated.html`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	// Output flags
	checkCmd.Flags().StringVar(&outJSON, "json", "", "output JSON report path")
	checkCmd.Flags().StringVar(&outMD, "md", "", "output Markdown report path")
	checkCmd.Flags().StringVar(&outHTML, "html", "", "output annotated page path")
	checkCmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")
	checkCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")

	// Workflow flags
	checkCmd.Flags().BoolVar(&autoSources, "sources", true, "search sources for every keypoint")
	checkCmd.Flags().BoolVar(&crosscheck, "crosscheck", false, "cross-check every retrievable source")
	checkCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "trigger stages with commands on stdin")
	checkCmd.Flags().BoolVar(&readerMode, "reader", false, "check the readable article instead of the full page")
	checkCmd.Flags().DurationVar(&stageTimeout, "stage-timeout", 0, "warn when a source search or cross-check takes longer (0 disables)")

	// HTTP flags
	checkCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall check timeout")
	checkCmd.Flags().StringVar(&userAgent, "ua", "", "HTTP User-Agent")
	checkCmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "max page bytes to read")
	checkCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable cache (force fresh fetch)")
	checkCmd.Flags().BoolVar(&noRobots, "no-robots", false, "ignore robots.txt")
	checkCmd.Flags().BoolVar(&insecureTLS, "insecure", false, "skip TLS certificate verification (use for self-signed certs)")
	checkCmd.Flags().StringVar(&httpProxy, "http-proxy", "", "HTTP proxy URL (overrides HTTP_PROXY env var)")
	checkCmd.Flags().StringVar(&httpsProxy, "https-proxy", "", "HTTPS proxy URL (overrides HTTPS_PROXY env var)")
}

// applyCheckFlags copies flags the user set over the loaded configuration
func applyCheckFlags(cmd *cobra.Command, c *model.Config) {
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		c.HTTP.Timeout = timeout
	}
	if flags.Changed("ua") {
		c.HTTP.UserAgent = userAgent
	}
	if flags.Changed("max-bytes") {
		c.HTTP.MaxBodyBytes = maxBytes
	}
	if flags.Changed("http-proxy") {
		c.HTTP.HTTPProxy = httpProxy
	}
	if flags.Changed("https-proxy") {
		c.HTTP.HTTPSProxy = httpsProxy
	}
	if noCache {
		c.Cache.Enabled = false
	}
	if noRobots {
		c.HTTP.RespectRobots = false
	}
	if insecureTLS {
		c.HTTP.InsecureTLS = true
		c.Server.InsecureTLS = true
	}
	if noFooter {
		c.Output.IncludeFooter = false
	}
	if noColor {
		c.Output.Color = false
	}
	if flags.Changed("sources") {
		c.Workflow.AutoSources = autoSources
	}
	if flags.Changed("crosscheck") {
		c.Workflow.AutoCrosscheck = crosscheck
	}
	if flags.Changed("reader") {
		c.Workflow.ReaderMode = readerMode
	}
	if flags.Changed("stage-timeout") {
		c.Workflow.StageTimeout = stageTimeout
	}
	if interactive && !flags.Changed("sources") {
		c.Workflow.AutoSources = false
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	url := args[0]
	applyCheckFlags(cmd, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debug("checking", "url", url, "server", cfg.Server.Address, "cache", cfg.Cache.Enabled, "timeout", timeout)

	p := pipeline.NewPipeline(cfg, logger)
	view := sidebar.New(os.Stderr, cfg.Output.Color)
	opts := pipeline.CheckOptions{Listeners: []workflow.Listener{view.Listener()}}
	if interactive {
		opts.Drive = view.Drive(os.Stdin, os.Stderr)
	}

	result, err := p.CheckWith(ctx, url, opts)
	if result == nil {
		return fmt.Errorf("check failed: %w", err)
	}

	fmt.Fprintln(os.Stderr)
	fmt.Fprint(os.Stderr, view.Render())

	if rErr := writeOutputs(p.Renderer(), result); rErr != nil {
		return fmt.Errorf("render failed: %w", rErr)
	}
	if outJSON == "" && outMD == "" {
		p.Renderer().WriteMarkdown(os.Stdout, result.Report)
	} else {
		p.Renderer().RenderSummary(os.Stdout, result.Report)
	}

	if err != nil {
		return fmt.Errorf("check incomplete: %w", err)
	}
	return nil
}

func writeOutputs(r *pipeline.Renderer, result *pipeline.CheckResult) error {
	if outJSON != "" {
		if err := r.RenderJSON(result.Report, outJSON); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ JSON report: %s\n", outJSON)
	}
	if outMD != "" {
		if err := r.RenderMarkdown(result.Report, outMD); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Markdown report: %s\n", outMD)
	}
	if outHTML != "" {
		if err := r.RenderHTML(result.AnnotatedHTML, outHTML); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Annotated page: %s\n", outHTML)
	}
	return nil
}
