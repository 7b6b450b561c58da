package main

import (
	"os"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/cmd/bulkload/cmd"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common"
)

func main() {
	common.ConfigureLogging()
	os.Exit(cmd.Execute(os.Args[1:], os.Stderr))
}
