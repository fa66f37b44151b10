// Package ui renders plain-text terminal output for the non-interactive
// modes: status lines, the banner, selection menus and confirmation prompts.
package ui

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"hoplink/internal/config"
	"hoplink/internal/conn"
)

// MenuAttempts is how many invalid selections a menu tolerates before
// giving up.
const MenuAttempts = 3

var stdin = bufio.NewReader(os.Stdin)

// Header prints the application banner.
func Header(version string) {
	fmt.Println()
	color.Cyan("╔════════════════════════════════════════╗")
	color.Cyan(bannerLine("hoplink"))
	color.Cyan(bannerLine("VPN session launcher " + version))
	color.Cyan("╚════════════════════════════════════════╝")
	fmt.Println()
}

func bannerLine(text string) string {
	const width = 40
	pad := width - len([]rune(text))
	if pad < 0 {
		pad = 0
	}
	left := pad / 2
	return "║" + strings.Repeat(" ", left) + text + strings.Repeat(" ", pad-left) + "║"
}

// Status prints a progress line.
func Status(message string) {
	fmt.Printf("%s %s\n", color.BlueString("→"), message)
}

// Success prints a completed-step line.
func Success(message string) {
	fmt.Printf("%s %s\n", color.GreenString("✓"), message)
}

// Warning prints a degraded-but-continuing line.
func Warning(message string) {
	fmt.Printf("%s %s\n", color.YellowString("⚠"), message)
}

// Error prints a failure line to stderr.
func Error(message string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("✗"), message)
}

// Notify renders orchestrator updates as status lines. Install it as the
// manager's notify callback in the plain modes.
func Notify(u conn.Update) {
	switch {
	case u.Warn:
		Warning(u.Detail)
	case u.Phase == conn.PhaseConnected:
		Success(u.Detail)
	default:
		Status(u.Detail)
	}
}

// ReadInput prompts for one line of input.
func ReadInput(prompt string) (string, error) {
	fmt.Printf("%s: ", color.New(color.Bold).Sprint(prompt))
	line, err := stdin.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Confirm asks a yes/no question, defaulting to no.
func Confirm(prompt string) (bool, error) {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := stdin.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read input: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// SelectIndex shows a numbered menu and returns the chosen zero-based
// index. Invalid input retries up to MenuAttempts times.
func SelectIndex(title string, labels []string) (int, error) {
	for attempt := 1; attempt <= MenuAttempts; attempt++ {
		color.Cyan(title)
		color.Cyan(strings.Repeat("─", len([]rune(title))))
		for i, label := range labels {
			fmt.Printf("  %d) %s\n", i+1, label)
		}
		fmt.Println()

		input, err := ReadInput("Enter number")
		if err != nil {
			return 0, err
		}
		if idx, ok := parseSelection(input, len(labels)); ok {
			return idx, nil
		}
		if attempt < MenuAttempts {
			Warning(fmt.Sprintf("Invalid selection, enter a number between 1 and %d (%d attempts remaining)",
				len(labels), MenuAttempts-attempt))
			fmt.Println()
		}
	}
	return 0, fmt.Errorf("invalid selection after %d attempts", MenuAttempts)
}

func parseSelection(input string, max int) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < 1 || n > max {
		return 0, false
	}
	return n - 1, true
}

// SelectServer shows the server menu and returns the chosen index.
func SelectServer(servers []config.Server) (int, error) {
	labels := make([]string, len(servers))
	for i, s := range servers {
		labels[i] = s.Name
		if s.HasSSH() {
			labels[i] += color.New(color.Faint).Sprint(" [SSH]")
		}
	}
	return SelectIndex("Select a server:", labels)
}

// SelectMode shows the connection type menu.
func SelectMode() (conn.Mode, error) {
	modes := conn.Modes()
	labels := make([]string, len(modes))
	for i, m := range modes {
		labels[i] = m.String()
	}
	idx, err := SelectIndex("Select connection type:", labels)
	if err != nil {
		return 0, err
	}
	return modes[idx], nil
}

// ConnectionInfo prints the details block shown before connecting.
func ConnectionInfo(server config.Server, mode conn.Mode) {
	fmt.Println()
	color.New(color.FgCyan, color.Bold).Println("Connection Details:")
	fmt.Printf("  Server: %s\n", color.New(color.Bold).Sprint(server.Name))
	fmt.Printf("  VPN:    %s\n", server.VPN)
	fmt.Printf("  Type:   %s\n", mode)
	if mode != conn.ModeSSH {
		fmt.Printf("  RDP:    %s\n", server.RDP)
	}
	if mode != conn.ModeRDP && server.HasSSH() {
		fmt.Printf("  SSH:    %s\n", server.SSH)
	}
	fmt.Println()
}
