package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-converter/internal/config"
)

const sampleMT940 = `:20:REF
:25:NL91ABNA0417164300
:60F:C240201EUR500,00
:61:2402020202D100,00NTRFNONREF
:86:Rent
:62F:C240202EUR400,00
`

func newTestApp(t *testing.T, stdin string) (*app, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	cfg, err := config.FromEnv(func(string) string { return "" })
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	var stdout, stderr bytes.Buffer
	return &app{
		cfg:    cfg,
		log:    zerolog.Nop(),
		stdin:  strings.NewReader(stdin),
		stdout: &stdout,
		stderr: &stderr,
	}, &stdout, &stderr
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", nil, exitUsage},
		{"help", []string{"help"}, exitOK},
		{"unknown command", []string{"upload"}, exitUsage},
		{"convert without formats", []string{"convert"}, exitUsage},
		{"convert unknown format", []string{"convert", "--input-format", "ofx", "--output-format", "csv"}, exitUsage},
		{"convert bad flag", []string{"convert", "--nope"}, exitUsage},
		{"compare without files", []string{"compare", "--format1", "csv"}, exitTrouble},
		{"batch without manifest", []string{"batch"}, exitUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _ := newTestApp(t, "")
			if code := a.run(context.Background(), tt.args); code != tt.code {
				t.Errorf("exit code = %d, want %d", code, tt.code)
			}
		})
	}
}

func TestRun_ConvertStdio(t *testing.T) {
	a, stdout, stderr := newTestApp(t, sampleMT940)

	code := a.run(context.Background(), []string{"convert", "--input-format", "mt940", "--output-format", "csv"})
	if code != exitOK {
		t.Fatalf("exit code = %d: %s", code, stderr.String())
	}
	want := "reference,date,value_date,amount,direction,currency,description\n" +
		",2024-02-02,2024-02-02,100.00,debit,EUR,Rent\n"
	if stdout.String() != want {
		t.Errorf("stdout =\n%s\nwant\n%s", stdout.String(), want)
	}
}

func TestRun_ConvertFiles(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.csv", "Datum;Betrag\n01.02.2024;-12,50\n")
	out := filepath.Join(dir, "out", "statement.sta")

	a, _, stderr := newTestApp(t, "")
	code := a.run(context.Background(), []string{
		"convert",
		"--input", in, "--input-format", "csv",
		"--output", out, "--output-format", "mt940",
		"--csv-delimiter", ";", "--csv-decimal", ",", "--csv-date-format", "02.01.2006",
		"--csv-currency", "EUR", "--csv-account", "DE89370400440532013000",
	})
	// The German headers are not recognized, so this is an input error.
	if code != exitFailure {
		t.Fatalf("exit code = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(stderr.String(), "Error:") {
		t.Errorf("stderr should carry the error: %q", stderr.String())
	}

	in = writeFile(t, dir, "in2.csv", "Date;Amount\n01.02.2024;-12,50\n")
	stderr.Reset()
	code = a.run(context.Background(), []string{
		"convert",
		"--input", in, "--input-format", "csv",
		"--output", out, "--output-format", "mt940",
		"--csv-delimiter", ";", "--csv-decimal", ",", "--csv-date-format", "02.01.2006",
		"--csv-currency", "EUR", "--csv-account", "DE89370400440532013000",
	})
	if code != exitOK {
		t.Fatalf("exit code = %d: %s", code, stderr.String())
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	for _, want := range []string{":20:CSV-", ":25:DE89370400440532013000", "D12,50"} {
		if !strings.Contains(string(got), want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRun_Compare(t *testing.T) {
	dir := t.TempDir()
	mt := writeFile(t, dir, "a.sta", sampleMT940)
	same := writeFile(t, dir, "b.csv", "date,amount,currency\n2024-02-02,-100,EUR\n")
	differs := writeFile(t, dir, "c.csv", "date,amount,currency\n2024-02-02,-100.50,EUR\n")

	tests := []struct {
		name   string
		file2  string
		code   int
		output string
	}{
		{"identical", same, exitOK, "identical"},
		{"different", differs, exitFailure, "transaction 0: amount: 100 != 100.5"},
		{"missing file", filepath.Join(dir, "nope.csv"), exitTrouble, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, stdout, _ := newTestApp(t, "")
			code := a.run(context.Background(), []string{
				"compare", "--file1", mt, "--format1", "mt940", "--file2", tt.file2, "--format2", "csv",
			})
			if code != tt.code {
				t.Fatalf("exit code = %d, want %d", code, tt.code)
			}
			if !strings.Contains(stdout.String(), tt.output) {
				t.Errorf("stdout = %q, want %q", stdout.String(), tt.output)
			}
		})
	}
}

func TestRun_Batch(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.sta", sampleMT940)
	bad := writeFile(t, dir, "bad.sta", "garbage\n")
	manifest := writeFile(t, dir, "jobs.txt", strings.Join([]string{
		"# two conversions",
		good + " " + filepath.Join(dir, "good.xml") + " mt940 camt053",
		bad + " " + filepath.Join(dir, "bad.xml") + " mt940 camt053",
	}, "\n")+"\n")

	a, stdout, stderr := newTestApp(t, "")
	code := a.run(context.Background(), []string{"batch", "--manifest", manifest, "--workers", "2"})
	if code != exitFailure {
		t.Fatalf("exit code = %d, want %d: %s", code, exitFailure, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "ok\t"+good) || !strings.Contains(out, "1 transactions") {
		t.Errorf("missing success line:\n%s", out)
	}
	if !strings.Contains(out, "FAIL\t"+bad) {
		t.Errorf("missing failure line:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "good.xml")); err != nil {
		t.Errorf("good.xml not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "bad.xml")); !os.IsNotExist(err) {
		t.Errorf("bad.xml should not exist, stat err = %v", err)
	}
}

func TestRun_BatchRejectsStdoutOutputs(t *testing.T) {
	a, _, stderr := newTestApp(t, "in.sta - mt940 csv\n")
	if code := a.run(context.Background(), []string{"batch", "--manifest", "-"}); code != exitUsage {
		t.Errorf("exit code = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), "stdout") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRun_Formats(t *testing.T) {
	a, stdout, _ := newTestApp(t, "")
	if code := a.run(context.Background(), []string{"formats"}); code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "mt940\t.sta") {
		t.Errorf("unexpected formats output:\n%s", stdout.String())
	}
}
