package main

import (
	"log"

	"github.com/spf13/cobra"

	moncli "github.com/clusterbits/groupmon/pkg/cli"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "groupmon",
		Short:         "process-group monitor for PostgreSQL clusters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	moncli.AddAll(root)
	return root
}
