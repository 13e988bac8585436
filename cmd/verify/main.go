// Command verify is an interactive and batch command-line frontend for
// the emailverify pipeline: verify one address at a time, or a whole
// file of them, with colorized terminal output.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"emailverify"
)

const (
	defaultHeloDomain = "verification.localhost"
	defaultMailFrom   = "verifier@localhost"
)

func main() {
	emailFlag := flag.String("email", "", "verify a single email address and exit")
	fileFlag := flag.String("file", "", "verify every address in this file and exit")
	heloFlag := flag.String("helo", defaultHeloDomain, "HELO domain presented to mail servers")
	fromFlag := flag.String("from", defaultMailFrom, "MAIL FROM address presented to mail servers")
	probesFlag := flag.Int("probes", 2, "number of catch-all probes per domain (1-5)")
	flag.Parse()

	pipeline := emailverify.New(emailverify.Config{
		HeloDomain: *heloFlag,
		MailFrom:   *fromFlag,
		ProbeCount: *probesFlag,
	})

	switch {
	case *emailFlag != "":
		verifyAndPrintDetailed(pipeline, *emailFlag)
	case *fileFlag != "":
		if err := runBatchFile(pipeline, *fileFlag); err != nil {
			color.Red("Error: %v", err)
			os.Exit(1)
		}
	default:
		printBanner()
		runMainMenu(pipeline)
	}
}

func runMainMenu(pipeline *emailverify.Pipeline) {
	reader := bufio.NewReader(os.Stdin)
	for {
		printMainMenu()
		choice := strings.TrimSpace(readLine(reader))

		switch choice {
		case "1":
			runInteractiveMode(pipeline, reader)
		case "2":
			runBatchMode(pipeline, reader)
		case "3":
			printHelp()
		case "4":
			color.Cyan("Goodbye!")
			return
		default:
			color.Red("Invalid choice. Please enter 1-4.")
		}
	}
}

func printBanner() {
	bold := color.New(color.FgCyan, color.Bold)
	bold.Println("===============================================================")
	bold.Println("              email verification console")
	bold.Println("===============================================================")
}

func printMainMenu() {
	bold := color.New(color.Bold)
	bold.Println("\nMain Menu:")
	fmt.Println("  1. Interactive Mode - verify emails one at a time")
	fmt.Println("  2. Batch Mode - verify emails from a file")
	fmt.Println("  3. Help - display usage information")
	fmt.Println("  4. Exit")
	bold.Print("Enter choice (1-4): ")
}

func runInteractiveMode(pipeline *emailverify.Pipeline, reader *bufio.Reader) {
	color.New(color.FgBlue).Println("\n=== Interactive Mode ===")
	fmt.Println("Enter email addresses to verify (or 'menu' to return to the main menu)")
	fmt.Println("Type 'help' for interactive commands")

	for {
		color.New(color.Bold).Print("\nemail> ")
		input := strings.TrimSpace(readLine(reader))

		switch {
		case input == "":
			continue
		case strings.EqualFold(input, "menu"), strings.EqualFold(input, "back"):
			return
		case strings.EqualFold(input, "help"):
			printInteractiveHelp()
		case strings.EqualFold(input, "stats"):
			printSystemInfo(pipeline)
		default:
			verifyAndPrintDetailed(pipeline, input)
		}
	}
}

func printInteractiveHelp() {
	bold := color.New(color.Bold)
	bold.Println("\nInteractive Mode Commands:")
	fmt.Println("  <email>  - verify the given email address")
	fmt.Println("  help     - show this help message")
	fmt.Println("  stats    - display cache statistics")
	fmt.Println("  menu     - return to the main menu (alias: back)")
}

func printSystemInfo(pipeline *emailverify.Pipeline) {
	stats := pipeline.CacheStats()
	bold := color.New(color.Bold)
	bold.Println("\nCatch-all cache statistics:")
	fmt.Printf("  Enabled:   %t\n", stats.Enabled)
	fmt.Printf("  Size:      %d\n", stats.Size)
	fmt.Printf("  Hits:      %d\n", stats.Hits)
	fmt.Printf("  Misses:    %d\n", stats.Misses)
	fmt.Printf("  Hit rate:  %.1f%%\n", stats.HitRate*100)
}

func runBatchMode(pipeline *emailverify.Pipeline, reader *bufio.Reader) {
	color.New(color.FgBlue).Println("\n=== Batch Mode ===")
	fmt.Print("Enter path to email file (or 'menu' to cancel): ")
	filePath := strings.TrimSpace(readLine(reader))

	if strings.EqualFold(filePath, "menu") || strings.EqualFold(filePath, "back") || filePath == "" {
		return
	}

	if err := runBatchFile(pipeline, filePath); err != nil {
		color.Red("Error reading file: %v", err)
	}
}

func runBatchFile(pipeline *emailverify.Pipeline, filePath string) error {
	emails, err := readEmailFile(filePath)
	if err != nil {
		return err
	}
	if len(emails) == 0 {
		color.Yellow("No email addresses found in file.")
		return nil
	}

	bold := color.New(color.Bold)
	bold.Printf("Found %d email(s) to verify\n\n", len(emails))

	var valid, catchAll, invalid, unknown int
	for i, email := range emails {
		bold.Printf("[%d/%d] ", i+1, len(emails))
		fmt.Println(email)

		result := pipeline.Verify(context.Background(), email)
		printResultCompact(result)

		switch result.Status {
		case emailverify.StatusValid:
			valid++
		case emailverify.StatusCatchAll:
			catchAll++
		case emailverify.StatusInvalid:
			invalid++
		case emailverify.StatusUnknown:
			unknown++
		}
		fmt.Println()
	}

	printBatchSummary(len(emails), valid, catchAll, invalid, unknown)
	return nil
}

// readEmailFile reads one address per line, skipping blank lines and
// lines starting with '#'.
func readEmailFile(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var emails []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		emails = append(emails, line)
	}
	return emails, scanner.Err()
}

func printBatchSummary(total, valid, catchAll, invalid, unknown int) {
	bold := color.New(color.Bold)
	bold.Println("=======================================")
	bold.Println("BATCH VERIFICATION SUMMARY")
	bold.Println("=======================================")
	fmt.Printf("Total Verified:  %d\n", total)
	color.New(color.FgGreen).Printf("Valid:           %d (%.1f%%)\n", valid, pct(valid, total))
	color.New(color.FgMagenta).Printf("Catch-All:       %d (%.1f%%)\n", catchAll, pct(catchAll, total))
	color.New(color.FgRed).Printf("Invalid:         %d (%.1f%%)\n", invalid, pct(invalid, total))
	color.New(color.FgYellow).Printf("Unknown:         %d (%.1f%%)\n", unknown, pct(unknown, total))
	bold.Println("=======================================")
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}

func verifyAndPrintDetailed(pipeline *emailverify.Pipeline, email string) {
	start := time.Now()
	result := pipeline.Verify(context.Background(), email)
	duration := time.Since(start)

	color.New(color.Bold).Println("--- Verification Result ---")
	fmt.Print("Status:           ")
	printColoredStatus(result.Status)
	fmt.Println()

	fmt.Println("Syntax Valid:     " + formatBool(result.SyntaxValid))
	fmt.Println("Domain Resolves:  " + formatBool(result.DomainResolvable))
	fmt.Println("SMTP Accepted:    " + formatBool(result.SMTPAccepted))

	if result.Status == emailverify.StatusValid || result.Status == emailverify.StatusCatchAll {
		fmt.Print("Catch-All:        ")
		printCatchAllConfidence(result.CatchAllConfidence)
		fmt.Println()
	}

	if result.HasDiagnostic() {
		fmt.Println("Diagnostic:       " + result.Diagnostic)
	}
	fmt.Printf("Duration:         %dms\n", duration.Milliseconds())
}

func printResultCompact(result emailverify.Result) {
	fmt.Print("  Status: ")
	printColoredStatus(result.Status)
	if result.HasDiagnostic() {
		fmt.Print(" - " + result.Diagnostic)
	}
	fmt.Println()
}

func printColoredStatus(status emailverify.Status) {
	switch status {
	case emailverify.StatusValid:
		color.New(color.FgGreen, color.Bold).Print("VALID")
	case emailverify.StatusCatchAll:
		color.New(color.FgMagenta, color.Bold).Print("CATCH-ALL")
	case emailverify.StatusInvalid:
		color.New(color.FgRed, color.Bold).Print("INVALID")
	case emailverify.StatusUnknown:
		color.New(color.FgYellow, color.Bold).Print("UNKNOWN")
	}
}

func printCatchAllConfidence(confidence emailverify.Confidence) {
	switch confidence {
	case emailverify.ConfidenceConfirmed:
		color.New(color.FgMagenta, color.Bold).Print("CONFIRMED")
		fmt.Print(" (all probes accepted)")
	case emailverify.ConfidenceSuspected:
		color.New(color.FgYellow).Print("SUSPECTED")
		fmt.Print(" (not confirmed)")
	case emailverify.ConfidenceNotDetected:
		color.New(color.FgGreen).Print("NOT DETECTED")
		fmt.Print(" (server is selective)")
	case emailverify.ConfidenceIndetermin:
		color.New(color.FgYellow).Print("INDETERMINATE")
		fmt.Print(" (cannot determine)")
	}
}

func formatBool(v bool) string {
	if v {
		return color.New(color.FgGreen).Sprint("Yes")
	}
	return color.New(color.FgRed).Sprint("No")
}

func printHelp() {
	bold := color.New(color.Bold)
	bold.Println("\n=======================================")
	bold.Println("VERIFY HELP & DOCUMENTATION")
	bold.Println("=======================================")

	bold.Println("\nOVERVIEW:")
	fmt.Println("Verification runs through multiple stages:")
	fmt.Println("  1. Syntax validation")
	fmt.Println("  2. DNS resolution (MX/A records)")
	fmt.Println("  3. SMTP dialogue")
	fmt.Println("  4. Response interpretation")
	fmt.Println("  5. Multi-probe catch-all detection")

	bold.Println("\nOPERATING MODES:")
	fmt.Println("  Interactive Mode - verify emails one at a time, with detailed results")
	fmt.Println("  Batch Mode       - verify a file of addresses, one line each, '#' for comments")

	bold.Println("\nSTATUSES:")
	color.New(color.FgGreen).Print("  VALID")
	fmt.Println("        - mailbox accepted; catch-all not confirmed")
	color.New(color.FgMagenta).Print("  CATCH-ALL")
	fmt.Println("    - server accepts all addresses; mailbox existence unconfirmed")
	color.New(color.FgRed).Print("  INVALID")
	fmt.Println("      - failed verification (bad syntax, domain, or mailbox)")
	color.New(color.FgYellow).Print("  UNKNOWN")
	fmt.Println("      - cannot determine validity (timeout, block, transient failure)")

	bold.Println("\nBATCH FILE FORMAT:")
	fmt.Println("  One email per line; blank lines and lines starting with '#' are skipped.")
	bold.Println("=======================================")
}

func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return line
}
