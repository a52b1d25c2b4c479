package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/doppelcheck/internal/protocol"
	"github.com/ppiankov/doppelcheck/internal/transport"
)

var pingTimeout time.Duration

// pingCmd represents the ping command
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the Doppelcheck server answers",
	Long: `Ping opens a session to the server, sends a ping and waits for the pong.

Example:
  doppelcheck ping
  doppelcheck ping --server doppelcheck.example.org`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 10*time.Second, "how long to wait for the pong")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	rtt, err := ping(ctx)
	if err != nil {
		return fmt.Errorf("ping %s: %w", cfg.Server.Address, err)
	}
	fmt.Printf("✓ %s answered in %s\n", cfg.Server.Address, rtt.Round(time.Millisecond))
	return nil
}

// ping measures one ping/pong round trip on a fresh session
func ping(ctx context.Context) (time.Duration, error) {
	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	sess, err := transport.Dial(ctx, transport.Options{
		Address:          cfg.Server.Address,
		URL:              cfg.Server.TalkURL(),
		InstanceID:       instanceID,
		InsecureTLS:      cfg.Server.InsecureTLS,
		HTTPProxy:        cfg.HTTP.HTTPProxy,
		HTTPSProxy:       cfg.HTTP.HTTPSProxy,
		NoProxy:          cfg.HTTP.NoProxy,
		HandshakeTimeout: pingTimeout,
		Logger:           logger,
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = sess.Close() }()

	pong := make(chan struct{}, 1)
	runErr := make(chan error, 1)
	go func() {
		runErr <- sess.Run(ctx, func(f protocol.Frame) {
			if _, ok := f.Message.(protocol.Pong); ok {
				select {
				case pong <- struct{}{}:
				default:
				}
			}
		})
	}()

	start := time.Now()
	if err := sess.Ping(); err != nil {
		return 0, err
	}

	select {
	case <-pong:
		return time.Since(start), nil
	case err := <-runErr:
		if err == nil {
			err = fmt.Errorf("server closed the connection")
		}
		return 0, err
	case <-ctx.Done():
		return 0, fmt.Errorf("no pong: %w", ctx.Err())
	}
}
