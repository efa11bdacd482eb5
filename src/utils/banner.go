package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
)

// BannerInfo is what the startup banner shows
type BannerInfo struct {
	Version   string
	BuildDate string
	Address   string
	Database  string
	Blacklist string
}

// terminalWidth returns the width of stdout, or 80 when it is not a terminal
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 80
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width == 0 {
		return 80
	}
	return width
}

// PrintBanner writes the startup banner sized to the terminal
func PrintBanner(w io.Writer, info BannerInfo) {
	writeBanner(w, info, filepath.Base(os.Args[0]), terminalWidth())
}

func writeBanner(w io.Writer, info BannerInfo, name string, width int) {
	switch {
	case width >= 70:
		inner := 60
		line := strings.Repeat("═", inner)
		fmt.Fprintf(w, "╔%s╗\n", line)
		fmt.Fprintf(w, "║%s║\n", centerText(fmt.Sprintf("%s %s", name, info.Version), inner))
		fmt.Fprintf(w, "║%s║\n", strings.Repeat(" ", inner))
		fmt.Fprintf(w, "║  %-10s %-47s║\n", "Listen:", truncate(info.Address, 47))
		fmt.Fprintf(w, "║  %-10s %-47s║\n", "Database:", truncate(info.Database, 47))
		fmt.Fprintf(w, "║  %-10s %-47s║\n", "Blacklist:", truncate(info.Blacklist, 47))
		if info.BuildDate != "" {
			fmt.Fprintf(w, "║  %-10s %-47s║\n", "Built:", truncate(info.BuildDate, 47))
		}
		fmt.Fprintf(w, "╚%s╝\n", line)
	case width >= 40:
		fmt.Fprintf(w, "%s %s\n", name, info.Version)
		fmt.Fprintf(w, "listen %s (%s, %s)\n", info.Address, info.Database, info.Blacklist)
	default:
		fmt.Fprintf(w, "%s %s\n", name, info.Address)
	}
}

func centerText(text string, width int) string {
	n := len([]rune(text))
	if n >= width {
		return string([]rune(text)[:width])
	}
	left := (width - n) / 2
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", width-n-left)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
