package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-snapshot/internal/cli"
)

var version = "dev"

func main() {
	rootCmd := cli.NewRootCmd(version)
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
