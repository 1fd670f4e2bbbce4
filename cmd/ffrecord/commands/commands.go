package commands

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/ffrecord/pkg/libav"
	"github.com/xaionaro-go/observability"
)

var (
	// Access these variables only from a main package:

	Root = &cobra.Command{
		Use:           os.Args[0],
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			l := logger.FromCtx(ctx).WithLevel(LoggerLevel)
			ctx = logger.CtxWithLogger(ctx, l)
			cmd.SetContext(ctx)
			logger.Debugf(ctx, "log-level: %v", LoggerLevel)

			libav.InstallLogCallback(ctx, LoggerLevel)

			netPprofAddr, err := cmd.Flags().GetString("go-net-pprof-addr")
			if err != nil {
				l.Errorf("unable to get the value of the flag 'go-net-pprof-addr': %v", err)
			}
			if netPprofAddr != "" {
				observability.Go(ctx, func(ctx context.Context) {
					l.Infof("starting to listen for net/pprof requests at '%s'", netPprofAddr)
					l.Error(http.ListenAndServe(netPprofAddr, nil))
				})
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			logger.Debug(ctx, "end")
		},
	}

	Record = &cobra.Command{
		Use:   "record <output>",
		Short: "record a synthetic screen capture into an MP4/MOV file",
		Args:  cobra.RangeArgs(0, 1),
		Run:   record,
	}

	Encoders = &cobra.Command{
		Use:   "encoders",
		Short: "list the video encoders usable for recording",
		Args:  cobra.ExactArgs(0),
		Run:   encoders,
	}

	Probe = &cobra.Command{
		Use:   "probe <file>",
		Short: "print the tracks of a recorded file",
		Args:  cobra.ExactArgs(1),
		Run:   probe,
	}

	LoggerLevel = logger.LevelWarning
)

func init() {
	Root.AddCommand(Record)
	Root.AddCommand(Encoders)
	Root.AddCommand(Probe)

	Root.PersistentFlags().Var(&LoggerLevel, "log-level", "")
	Root.PersistentFlags().String("go-net-pprof-addr", "", "address to listen to for net/pprof requests")

	addRecordFlags(Record.Flags())

	Probe.Flags().Bool("key-frames", false, "also print the key frame indexes")
}

func addRecordFlags(flags *pflag.FlagSet) {
	flags.String("profile", "", "path to a recording profile (TOML or YAML)")
	flags.Duration("duration", 5*time.Second, "length of the recording")
	flags.String("codec", "", "override the video codec (h264|hevc|prores)")
	flags.String("encoder", "", "override the libav encoder name")
	flags.String("hwaccel", "", "hardware device type the frames are uploaded to (e.g. vaapi, cuda)")
	flags.String("hwaccel-device", "", "hardware device name (e.g. /dev/dri/renderD128)")
	flags.String("bitrate", "", "override the rate control with CBR at this bit rate (e.g. 8M)")
	flags.String("resolution", "", "override the resolution (WIDTHxHEIGHT)")
	flags.StringArrayP("encoder-option", "o", nil, "custom encoder option 'key=value' (repeatable)")
	flags.Bool("real-time", false, "pace the frames with the wall clock")
	flags.String("metrics-listen", "", "address to serve Prometheus metrics at ('proto:addr' or a UNIX socket path)")
	flags.String("sentry-dsn", "", "report recording failures to this Sentry DSN")
}

func assertNoError(ctx context.Context, err error) {
	if err != nil {
		logger.Panic(ctx, err)
	}
}
