package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"

	"github.com/golang/glog"

	"github.com/robotalks/uartbridge/pkg/env"
	fx "github.com/robotalks/uartbridge/pkg/framework"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	e := env.NewConfig().MustNewEnv()
	if err := fx.NewRunner().HandleSignals().Go(e.Runnables()...).Wait(); err != nil {
		glog.Flush()
		log.Fatalln(err)
	}
}
