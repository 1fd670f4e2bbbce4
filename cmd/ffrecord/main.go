package main

import (
	"context"
	"os"

	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/sirupsen/logrus"
	"github.com/xaionaro-go/ffrecord/cmd/ffrecord/commands"
	"github.com/xaionaro-go/xsync"
)

func main() {
	ll := logrus.New()
	ll.Out = os.Stderr
	ll.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}
	l := xlogrus.New(ll).WithLevel(commands.LoggerLevel)
	defer l.Flush()

	ctx := logger.CtxWithLogger(context.Background(), l)
	ctx = xsync.WithNoLogging(ctx, true)

	if err := commands.Root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
