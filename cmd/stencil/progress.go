package main

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// newProgressBar returns nil unless stderr is a terminal; a nil bar means
// progress rendering is off and the helpers below become no-ops.
func newProgressBar(max int, description string) *progressbar.ProgressBar {
	if !isTerminal(os.Stderr) {
		return nil
	}
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func setBar(bar *progressbar.ProgressBar, done int) {
	if bar != nil {
		_ = bar.Set(done)
	}
}

func describeBar(bar *progressbar.ProgressBar, description string) {
	if bar != nil {
		bar.Describe(description)
	}
}

func finishBar(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Finish()
	}
}
