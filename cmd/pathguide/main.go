// Command pathguide is a walking-guidance service for visually impaired
// pedestrians: it follows tactile paving in a video and speaks a short
// correction whenever the path bends away.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
