// Command syncd keeps an athlete's tracking data in step across devices.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
