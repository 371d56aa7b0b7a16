// Package report renders a finished workflow run as pretty terminal
// output, a single indented JSON document, JUnit XML, or TAP, grounded on
// original_source/src/pipeline/report.rs and the teacher's lipgloss/glamour
// terminal styling.
package report

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/quicpulse/quicpulse/internal/workflow"
)

// Format names one of the four emitters this package implements.
type Format string

const (
	FormatPretty Format = "pretty"
	FormatJSON   Format = "json"
	FormatJUnit  Format = "junit"
	FormatTAP    Format = "tap"
)

// Write renders result in the named format to w. An unrecognized format
// falls back to pretty, matching the teacher's "never hard-fail on cosmetic
// config" posture.
func Write(w io.Writer, result *workflow.RunResult, format Format) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatJUnit:
		return writeJUnit(w, result)
	case FormatTAP:
		return writeTAP(w, result)
	default:
		return writePretty(w, result)
	}
}

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#73daca")).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e")).Bold(true)
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6c6c6c"))
	headingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7")).Bold(true)
)

func writePretty(w io.Writer, result *workflow.RunResult) error {
	fmt.Fprintln(w, headingStyle.Render(result.Name))
	if result.Description != "" {
		fmt.Fprintln(w, dimStyle.Render(result.Description))
	}
	fmt.Fprintln(w)

	for _, step := range result.Steps {
		fmt.Fprintln(w, stepLine(step))
		for _, a := range step.Assertions {
			if !a.Passed {
				fmt.Fprintf(w, "    %s %s: %s\n", failureStyle.Render("✗"), a.ID, a.Message)
			}
		}
		if step.Error != "" {
			fmt.Fprintf(w, "    %s\n", failureStyle.Render(step.Error))
		}
	}

	fmt.Fprintln(w)
	s := result.Summary
	summaryLine := fmt.Sprintf("%d total, %s, %s, %s in %dms",
		s.Total,
		successStyle.Render(fmt.Sprintf("%d passed", s.Passed)),
		failureStyle.Render(fmt.Sprintf("%d failed", s.Failed)),
		skippedStyle.Render(fmt.Sprintf("%d skipped", s.Skipped)),
		s.TotalTimeMs,
	)
	fmt.Fprintln(w, summaryLine)
	return nil
}

func stepLine(step *workflow.StepResult) string {
	switch {
	case step.Skipped:
		return fmt.Sprintf("%s %s", skippedStyle.Render("○"), step.Name)
	case step.Passed():
		return fmt.Sprintf("%s %s %s", successStyle.Render("✓"), step.Name, dimStyle.Render(fmt.Sprintf("(%dms)", step.ElapsedMs)))
	default:
		return fmt.Sprintf("%s %s %s", failureStyle.Render("✗"), step.Name, dimStyle.Render(fmt.Sprintf("(%dms)", step.ElapsedMs)))
	}
}

func writeJSON(w io.Writer, result *workflow.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// junitTestsuite/junitTestcase mirror the shape junit_report's Rust crate
// writes, re-expressed as Go XML structs rather than pulling in a JUnit
// library the ecosystem doesn't offer a clean idiomatic equivalent for.
type junitTestsuites struct {
	XMLName xml.Name        `xml:"testsuites"`
	Suites  []junitTestsuite `xml:"testsuite"`
}

type junitTestsuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	Cases     []junitTestcase `xml:"testcase"`
}

type junitTestcase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitMessage `xml:"failure,omitempty"`
	Error     *junitMessage `xml:"error,omitempty"`
	Skipped   *struct{}     `xml:"skipped,omitempty"`
}

type junitMessage struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Text    string `xml:",chardata"`
}

func writeJUnit(w io.Writer, result *workflow.RunResult) error {
	classname := sanitizeClassname(result.Name)
	suite := junitTestsuite{
		Name:      result.Name,
		Tests:     result.Summary.Total,
		Failures:  result.Summary.Failed,
		Skipped:   result.Summary.Skipped,
		Time:      float64(result.Summary.TotalTimeMs) / 1000,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, step := range result.Steps {
		suite.Cases = append(suite.Cases, buildTestCase(step, classname))
	}

	doc := junitTestsuites{Suites: []junitTestsuite{suite}}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(doc)
}

func buildTestCase(step *workflow.StepResult, classname string) junitTestcase {
	tc := junitTestcase{Name: step.Name, Classname: classname, Time: float64(step.ElapsedMs) / 1000}
	switch {
	case step.Skipped:
		tc.Skipped = &struct{}{}
	case step.Error != "":
		tc.Error = &junitMessage{Message: step.Error, Type: "ExecutionError", Text: step.Error}
	case !step.Passed():
		var messages []string
		for _, a := range step.Assertions {
			if !a.Passed {
				messages = append(messages, fmt.Sprintf("%s: %s", a.ID, a.Message))
			}
		}
		text := strings.Join(messages, "\n")
		tc.Failure = &junitMessage{Message: text, Type: "AssertionFailure", Text: text}
	}
	return tc
}

func sanitizeClassname(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func writeTAP(w io.Writer, result *workflow.RunResult) error {
	fmt.Fprintln(w, "TAP version 14")
	fmt.Fprintf(w, "1..%d\n", len(result.Steps))

	for i, step := range result.Steps {
		n := i + 1
		switch {
		case step.Skipped:
			fmt.Fprintf(w, "ok %d - %s # SKIP\n", n, step.Name)
		case step.Passed():
			fmt.Fprintf(w, "ok %d - %s # time=%dms\n", n, step.Name, step.ElapsedMs)
		default:
			fmt.Fprintf(w, "not ok %d - %s\n", n, step.Name)
			fmt.Fprintln(w, "  ---")
			fmt.Fprintf(w, "  method: %s\n", step.Method)
			fmt.Fprintf(w, "  url: %s\n", step.URL)
			if step.StatusCode != nil {
				fmt.Fprintf(w, "  status: %d\n", *step.StatusCode)
			}
			if step.Error != "" {
				fmt.Fprintf(w, "  error: %s\n", step.Error)
			}
			var failed []workflow.AssertionResult
			for _, a := range step.Assertions {
				if !a.Passed {
					failed = append(failed, a)
				}
			}
			if len(failed) > 0 {
				fmt.Fprintln(w, "  failures:")
				for _, a := range failed {
					fmt.Fprintf(w, "    - %s: %s\n", a.ID, a.Message)
				}
			}
			fmt.Fprintln(w, "  ...")
		}
	}
	return nil
}
