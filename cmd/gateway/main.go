package main

import (
	"os"

	"k8s.io/klog/v2"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		klog.ErrorS(err, "gateway failed")
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}
