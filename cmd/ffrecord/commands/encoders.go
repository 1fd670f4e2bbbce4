package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xaionaro-go/ffrecord/pkg/libav"
)

func encoders(cmd *cobra.Command, args []string) {
	w := cmd.OutOrStdout()
	for _, enc := range libav.VideoEncoders() {
		mark := " "
		if enc.Preferred {
			mark = "*"
		}
		fmt.Fprintf(w, "%016X %s %-6s %s\n", enc.CodecID, mark, enc.Codec, enc.Name)
	}
}
