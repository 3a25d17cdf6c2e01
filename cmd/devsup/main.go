package main

import (
	"github.com/Paintersrp/devsup/internal/cli"
	"github.com/Paintersrp/devsup/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
