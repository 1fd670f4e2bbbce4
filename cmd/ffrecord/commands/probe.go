package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
	"github.com/xaionaro-go/ffrecord/pkg/libav"
)

func probe(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	printKeyFrames, err := cmd.Flags().GetBool("key-frames")
	assertNoError(ctx, err)

	r, err := libav.Probe(ctx, args[0])
	assertNoError(ctx, err)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %s, %v\n", args[0], r.FormatName, r.Duration)
	for idx, t := range r.Tracks {
		fmt.Fprintf(w, "  #%d %s %s: %d packets, %s, %v\n",
			idx, t.Kind, t.CodecName, t.Packets, humanize.Bytes(t.Bytes), t.Duration,
		)
		switch t.Kind {
		case types.TrackKindVideo:
			fmt.Fprintf(w, "     %dx%d %s, primaries=%s transfer=%s matrix=%s, %d key frames\n",
				t.Width, t.Height, t.PixelFormat,
				t.ColorPrimaries, t.TransferFunction, t.YCbCrMatrix,
				len(t.KeyFrames),
			)
			if printKeyFrames {
				fmt.Fprintf(w, "     key frames: %v\n", t.KeyFrames)
			}
		case types.TrackKindAudio:
			fmt.Fprintf(w, "     %d Hz, %d channels\n", t.SampleRate, t.Channels)
		}
	}
}
