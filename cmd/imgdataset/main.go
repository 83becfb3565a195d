// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// imgdataset prepares folders of images for training: it renames, merges, reshapes, crops, converts
// and grayscales whole directory trees, downloads images from lists of links and packs a tree of
// images into tensors with labels.
//
// Run `imgdataset --help` for the list of commands. Logging is controlled by klog's flags, e.g. `-v=1`.
package main

import (
	"flag"
	"os"

	"k8s.io/klog/v2"
)

func main() {
	rootCmd := NewRootCommand()
	goFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(goFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(goFlags)
	defer klog.Flush()

	if err := rootCmd.Execute(); err != nil {
		klog.Errorf("%v", err)
		klog.Flush()
		os.Exit(1)
	}
}
