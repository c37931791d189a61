package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-converter/internal/api"
	"github.com/dvloznov/statement-converter/internal/api/handlers"
	"github.com/dvloznov/statement-converter/internal/compare"
	"github.com/dvloznov/statement-converter/internal/csvformat"
	"github.com/dvloznov/statement-converter/internal/jobs"
	"github.com/dvloznov/statement-converter/internal/jobs/inmemory"
)

const sampleMT940 = `:20:REF
:25:NL91ABNA0417164300
:60F:C240201EUR500,00
:61:2402020202D100,00NTRFNONREF
:86:Rent
:62F:C240202EUR400,00
`

// MockPublisher records published jobs and saves them like the queue does.
type MockPublisher struct {
	Store              jobs.JobStore
	PublishConvertFunc func(ctx context.Context, job *jobs.ConvertJob) error
	Published          []*jobs.ConvertJob
}

func (m *MockPublisher) PublishConvert(ctx context.Context, job *jobs.ConvertJob) error {
	if m.PublishConvertFunc != nil {
		return m.PublishConvertFunc(ctx, job)
	}
	if job.JobID == "" {
		job.JobID = "job-" + string(rune('a'+len(m.Published)))
	}
	job.Status = jobs.JobStatusPending
	m.Published = append(m.Published, job)
	return m.Store.SaveJob(ctx, job)
}

func (m *MockPublisher) Close() error { return nil }

func newServer(t *testing.T) (*httptest.Server, *MockPublisher) {
	t.Helper()
	store := inmemory.NewStore()
	pub := &MockPublisher{Store: store}
	srv := httptest.NewServer(api.NewRouter(api.Options{
		Log:        zerolog.Nop(),
		CSVOptions: csvformat.DefaultOptions(),
		Publisher:  pub,
		JobStore:   store,
	}))
	t.Cleanup(srv.Close)
	return srv, pub
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthAndFormats(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/formats")
	if err != nil {
		t.Fatalf("GET /api/formats: %v", err)
	}
	var body struct {
		Formats []handlers.FormatInfo `json:"formats"`
		Count   int                   `json:"count"`
	}
	decode(t, resp, &body)
	if body.Count != 3 || body.Formats[0].Name != "mt940" || body.Formats[1].Extension != ".xml" {
		t.Errorf("unexpected formats: %+v", body)
	}
}

func TestConvert(t *testing.T) {
	srv, _ := newServer(t)

	tests := []struct {
		name        string
		query       string
		body        string
		wantStatus  int
		wantType    string
		wantContent string
	}{
		{
			name:        "mt940 to csv",
			query:       "from=mt940&to=csv",
			body:        sampleMT940,
			wantStatus:  http.StatusOK,
			wantType:    "text/csv",
			wantContent: ",2024-02-02,2024-02-02,100.00,debit,EUR,Rent\n",
		},
		{
			name:        "mt940 to camt",
			query:       "from=mt940&to=camt.053",
			body:        sampleMT940,
			wantStatus:  http.StatusOK,
			wantType:    "application/xml",
			wantContent: `<Amt Ccy="EUR">100.00</Amt>`,
		},
		{
			name:        "csv overrides",
			query:       "from=csv&to=csv&csv_delimiter=%3B&csv_decimal=,&csv_currency=EUR",
			body:        "date;amount\n2024-02-01;-1,5\n",
			wantStatus:  http.StatusOK,
			wantContent: ";2024-02-01;2024-02-01;1,50;debit;EUR;\n",
		},
		{
			name:       "missing format",
			query:      "from=mt940",
			body:       sampleMT940,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown format",
			query:      "from=mt940&to=pdf",
			body:       sampleMT940,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad csv override",
			query:      "from=csv&to=csv&csv_delimiter=ab",
			body:       "date,amount\n",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed input",
			query:      "from=mt940&to=csv",
			body:       "garbage",
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/convert?"+tt.query, "text/plain", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST /api/convert: %v", err)
			}
			defer resp.Body.Close()

			var buf bytes.Buffer
			buf.ReadFrom(resp.Body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.wantStatus, buf.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if tt.wantType != "" && !strings.HasPrefix(resp.Header.Get("Content-Type"), tt.wantType) {
				t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
			}
			if got := resp.Header.Get(handlers.TransactionCountHeader); got != "1" {
				t.Errorf("%s = %q", handlers.TransactionCountHeader, got)
			}
			if !strings.Contains(buf.String(), tt.wantContent) {
				t.Errorf("body does not contain %q:\n%s", tt.wantContent, buf.String())
			}
		})
	}
}

func TestCompare(t *testing.T) {
	srv, _ := newServer(t)

	post := func(req handlers.CompareRequest) *http.Response {
		t.Helper()
		b, _ := json.Marshal(req)
		resp, err := http.Post(srv.URL+"/api/compare", "application/json", bytes.NewReader(b))
		if err != nil {
			t.Fatalf("POST /api/compare: %v", err)
		}
		return resp
	}

	csvDoc := "date,amount,currency\n2024-02-02,-100.50,EUR\n"
	resp := post(handlers.CompareRequest{
		Left:  handlers.Document{Format: "mt940", Content: sampleMT940},
		Right: handlers.Document{Format: "csv", Content: csvDoc},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body handlers.CompareResponse
	decode(t, resp, &body)
	if body.Identical || body.Count != 1 {
		t.Fatalf("unexpected result: %+v", body)
	}
	if d := body.Differences[0]; d.Index != 0 || d.Field != compare.FieldAmount {
		t.Errorf("unexpected difference: %+v", d)
	}

	resp = post(handlers.CompareRequest{
		Left:  handlers.Document{Format: "mt940", Content: sampleMT940},
		Right: handlers.Document{Format: "mt940", Content: sampleMT940},
	})
	decode(t, resp, &body)
	if !body.Identical || body.Differences == nil {
		t.Errorf("expected identical result with an empty list: %+v", body)
	}

	errorCases := []struct {
		name   string
		req    handlers.CompareRequest
		status int
	}{
		{"unknown format", handlers.CompareRequest{
			Left:  handlers.Document{Format: "ofx", Content: "x"},
			Right: handlers.Document{Format: "mt940", Content: sampleMT940},
		}, http.StatusBadRequest},
		{"malformed side", handlers.CompareRequest{
			Left:  handlers.Document{Format: "mt940", Content: sampleMT940},
			Right: handlers.Document{Format: "camt053", Content: "<Document>"},
		}, http.StatusUnprocessableEntity},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(tt.req)
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}

	resp, err := http.Post(srv.URL+"/api/compare", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST /api/compare: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d", resp.StatusCode)
	}
}

func TestJobs(t *testing.T) {
	srv, pub := newServer(t)

	body := `{"input_uri":"in.sta","output_uri":"out.xml","from":"swift","to":"camt"}`
	resp, err := http.Post(srv.URL+"/api/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/jobs: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var created jobs.ConvertJob
	decode(t, resp, &created)
	if created.JobID == "" || created.From != "mt940" || created.To != "camt053" {
		t.Errorf("formats should be normalized: %+v", created)
	}
	if len(pub.Published) != 1 {
		t.Fatalf("published %d jobs", len(pub.Published))
	}

	resp, err = http.Get(srv.URL + "/api/jobs/" + created.JobID)
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	var got jobs.ConvertJob
	decode(t, resp, &got)
	if got.JobID != created.JobID || got.InputURI != "in.sta" {
		t.Errorf("unexpected job: %+v", got)
	}

	resp, err = http.Get(srv.URL + "/api/jobs?input_uri=in.sta")
	if err != nil {
		t.Fatalf("GET jobs: %v", err)
	}
	var list struct {
		Jobs  []jobs.ConvertJob `json:"jobs"`
		Count int               `json:"count"`
	}
	decode(t, resp, &list)
	if list.Count != 1 {
		t.Errorf("count = %d", list.Count)
	}

	statusCases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown job", http.MethodGet, "/api/jobs/nope", "", http.StatusNotFound},
		{"bad limit", http.MethodGet, "/api/jobs?limit=x", "", http.StatusBadRequest},
		{"missing uri", http.MethodPost, "/api/jobs", `{"input_uri":"a","from":"csv","to":"csv"}`, http.StatusBadRequest},
		{"bad format", http.MethodPost, "/api/jobs", `{"input_uri":"a","output_uri":"b","from":"pdf","to":"csv"}`, http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/api/jobs", "", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/api/nothing", "", http.StatusNotFound},
	}
	for _, tt := range statusCases {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestJobs_PublishFailure(t *testing.T) {
	srv, pub := newServer(t)
	pub.PublishConvertFunc = func(ctx context.Context, job *jobs.ConvertJob) error {
		return inmemory.ErrQueueClosed
	}

	body := `{"input_uri":"a","output_uri":"b","from":"csv","to":"mt940"}`
	resp, err := http.Post(srv.URL+"/api/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/jobs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	srv, _ := newServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q", got)
	}

	req, _ = http.NewRequest(http.MethodOptions, srv.URL+"/api/convert", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight status = %d, headers = %v", resp.StatusCode, resp.Header)
	}
}
