package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/brunobiangulo/gotopics"
	"github.com/brunobiangulo/gotopics/sentiment"
	"github.com/brunobiangulo/gotopics/source"
	"github.com/brunobiangulo/gotopics/store"
)

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := progressPrinter(&buf)
	p("input", 0.02)
	p("embed", 0.3)
	p("summarize", 0.8)
	p("summarize", 0.9)
	p("assemble", 1)

	want := "[  2%] input\n[ 30%] embed\n[ 80%] summarize\n[100%] assemble\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("progress (-want +got):\n%s", diff)
	}
}

func TestOutputRows(t *testing.T) {
	run := &store.Run{ID: "r1", Rows: []store.Row{
		{GeneralTopic: "Battery", Subtopic: "drain", Sentiment: "Very Negative", ResponseCount: 4, Summary: "s"},
	}}
	got, err := outputRows(run)
	if err != nil {
		t.Fatalf("outputRows: %v", err)
	}
	want := []gotopics.OutputRow{{GeneralTopic: "Battery", Subtopic: "drain", Sentiment: sentiment.VeryNegative, ResponseCount: 4, Summary: "s"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}

	run.Rows[0].Sentiment = "furious"
	if _, err := outputRows(run); err == nil {
		t.Error("expected error for unknown sentiment")
	}
}

func TestRunMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.csv")
	rootCmd.SetArgs([]string{"run", missing, "--env", filepath.Join(t.TempDir(), "none.env")})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	err := rootCmd.Execute()
	if !errors.Is(err, source.ErrInvalidFile) {
		t.Errorf("err = %v, want ErrInvalidFile", err)
	}
}

func TestRunRejectsOutputType(t *testing.T) {
	rootCmd.SetArgs([]string{"run", "feedback.csv", "-o", "out.json", "--env", filepath.Join(t.TempDir(), "none.env")})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error for .json output")
	}
	runFlags.output = ""
}
