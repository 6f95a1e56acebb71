package rpcgateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	billing "billing-recon/internal/billing/domain"
)

func newGateway(t *testing.T, handler func(req rpcRequest, raw json.RawMessage) (int, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rpc" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, payload := handler(rpcRequest{Method: body.Method}, body.Params)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
}

func TestFetchInvoices_CoercesRows(t *testing.T) {
	var gotParams invoiceParams
	server := newGateway(t, func(req rpcRequest, raw json.RawMessage) (int, string) {
		if req.Method != methodInvoices {
			return http.StatusBadRequest, `{}`
		}
		_ = json.Unmarshal(raw, &gotParams)
		return http.StatusOK, `{"status":"ok","rows":[
			{"customer_id":" C1 ","month":"3","year":2024,"due_amount":"1,250.50","settlement_date":"15/03/2024","invoice_ref":"R1","route_batch":"02"},
			{"customer_id":"C2","month":3,"year":"2024","due_amount":-4,"settlement_date":"","invoice_ref":"R2"},
			{"customer_id":"C3","month":"13","year":"2024","due_amount":"10","invoice_ref":"R3"},
			{"customer_id":"","month":"3","year":"2024","due_amount":"10","invoice_ref":"R4"}
		]}`
	})
	defer server.Close()

	client, err := NewClient(server.URL, WithToken("secret"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	rng := billing.PeriodRange{From: billing.Period{Month: 1, Year: 2024}, To: billing.Period{Month: 3, Year: 2024}}
	invoices, err := client.FetchInvoices(context.Background(), []string{"C1", "C2"}, rng)
	if err != nil {
		t.Fatalf("fetch invoices: %v", err)
	}
	if gotParams.FromMonth != 1 || gotParams.ToMonth != 3 || len(gotParams.CustomerIDs) != 2 {
		t.Fatalf("unexpected params %+v", gotParams)
	}
	if len(invoices) != 2 {
		t.Fatalf("expected 2 valid rows, got %d", len(invoices))
	}
	first := invoices[0]
	if first.CustomerID != "C1" || first.DueAmount != 1250.5 || first.RouteBatch != "02" {
		t.Fatalf("unexpected first invoice %+v", first)
	}
	if first.SettlementDate == nil || !first.SettlementDate.Equal(time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected settlement date %v", first.SettlementDate)
	}
	second := invoices[1]
	if second.DueAmount != 0 || second.SettlementDate != nil || second.Period != (billing.Period{Month: 3, Year: 2024}) {
		t.Fatalf("unexpected second invoice %+v", second)
	}
}

func TestFetchCustomerDirectory_UnknownColumns(t *testing.T) {
	server := newGateway(t, func(req rpcRequest, _ json.RawMessage) (int, string) {
		return http.StatusOK, `{"status":"ok","rows":[
			{"customer_id":"C1","name":"Alice","address":"1 Main","meter_code":"M1","sequence_code":7,"tariff":"B"},
			{"customer_id":"C2","name":null,"sequence_code":"8"}
		]}`
	})
	defer server.Close()

	lenient, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	records, err := lenient.FetchCustomerDirectory(context.Background())
	if err != nil {
		t.Fatalf("fetch directory: %v", err)
	}
	if len(records) != 2 || records[0].SequenceCode != "7" || records[1].Name != "" {
		t.Fatalf("unexpected records %+v", records)
	}

	strict, err := NewClient(server.URL, WithStrictSchema(true))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = strict.FetchCustomerDirectory(context.Background())
	var unknown *UnknownColumnError
	if !errors.As(err, &unknown) || unknown.Columns[0] != "tariff" {
		t.Fatalf("expected unknown column error, got %v", err)
	}
}

func TestCall_GatewayErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		payload string
	}{
		{"http error", http.StatusBadGateway, `{}`},
		{"not found", http.StatusNotFound, `{}`},
		{"rpc error", http.StatusOK, `{"status":"error","error":"ledger locked"}`},
		{"bad json", http.StatusOK, `{"rows":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newGateway(t, func(rpcRequest, json.RawMessage) (int, string) {
				return tc.status, tc.payload
			})
			defer server.Close()
			client, err := NewClient(server.URL)
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			if _, err := client.FetchCustomerDirectory(context.Background()); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestRawString(t *testing.T) {
	cases := map[string]string{
		`"abc"`:   "abc",
		`12.50`:   "12.50",
		`true`:    "true",
		`null`:    "",
		`{"a":1}`: "",
		``:        "",
	}
	for raw, want := range cases {
		if got := rawString(json.RawMessage(raw)); got != want {
			t.Fatalf("rawString(%s) = %q, want %q", raw, got, want)
		}
	}
}

func TestNewClient_EmptyBaseURL(t *testing.T) {
	if _, err := NewClient(""); !errors.Is(err, errEmptyBaseURL) {
		t.Fatalf("expected errEmptyBaseURL, got %v", err)
	}
}
