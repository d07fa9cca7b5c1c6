// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/coldfront/coldfront/pkg/utils"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coldfront",
	Short: "Coldfront - a caching object storage tier",
	Long: `Coldfront is a caching tier in front of cloud object storage.
A node keeps hot objects on fast local media, fetches cold ones from the
bucket's cloud on demand, and evicts by access time when the cache fills.
Nodes chain: a bucket's next tier can be another coldfront instance.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
