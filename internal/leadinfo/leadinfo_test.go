package leadinfo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

// promptCompleter answers by matching a keyword of each classification prompt.
type promptCompleter struct {
	mu        sync.Mutex
	language  string
	merchant  string
	sentiment string
	errFor    string
	temps     []float64
}

func (p *promptCompleter) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	p.mu.Lock()
	p.temps = append(p.temps, temperature)
	p.mu.Unlock()
	var kind, answer string
	switch {
	case strings.Contains(prompt, "idioma"):
		kind, answer = "idioma", p.language
	case strings.Contains(prompt, "comerciante"):
		kind, answer = "tipo", p.merchant
	case strings.Contains(prompt, "sentimento"):
		kind, answer = "sentimento", p.sentiment
	}
	if kind == p.errFor {
		return "", errors.New("llm unavailable")
	}
	return answer, nil
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestExtract(t *testing.T) {
	llm := &promptCompleter{language: "português", merchant: "Lojista.", sentiment: " positivo "}
	e := NewExtractor(llm, WithClock(func() time.Time { return fixedNow }))

	msg := "Oi, tenho loja! Meu email é Ana.Silva@exemplo.com.br, CEP 01310-100, nasci em 05/10/1990. Cidade: Campinas estado: SP"
	lead, err := e.Extract(context.Background(), "5511999999999@s.whatsapp.net", msg)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := models.Lead{
		models.LeadEmail:        "Ana.Silva@exemplo.com.br",
		models.LeadPostalCode:   "01310-100",
		models.LeadBirthDate:    "05/10/1990",
		models.LeadLanguage:     "português",
		models.LeadMerchantType: "lojista",
		models.LeadSentiment:    "positivo",
		models.LeadCity:         "campinas",
		models.LeadState:        "sp",
		models.LeadLastContact:  models.Timestamp(fixedNow),
	}
	if len(lead) != len(want) {
		t.Errorf("fields = %v, want %d fields", lead.Fields(), len(want))
	}
	for k, v := range want {
		if lead[k] != v {
			t.Errorf("%s = %q, want %q", k, lead[k], v)
		}
	}
	if len(llm.temps) != 3 {
		t.Fatalf("expected 3 classifications, got %d", len(llm.temps))
	}
	for _, temp := range llm.temps {
		if temp != ClassificationTemperature {
			t.Errorf("temperature = %v", temp)
		}
	}
}

func TestExtract_DropsUnknownAnswers(t *testing.T) {
	llm := &promptCompleter{language: "português", merchant: "nenhum", sentiment: "furioso"}
	lead, _ := NewExtractor(llm).Extract(context.Background(), "jid", "Quero ver o catálogo")
	if lead.Has(models.LeadMerchantType) {
		t.Errorf("nenhum must not be stored, got %q", lead.Get(models.LeadMerchantType))
	}
	if lead.Has(models.LeadSentiment) {
		t.Errorf("invalid sentiment kept: %q", lead.Get(models.LeadSentiment))
	}
	if !lead.Has(models.LeadLastContact) {
		t.Error("ult_contato should always be set")
	}
}

func TestExtract_ClassificationFailureOmitsOnlyItsField(t *testing.T) {
	llm := &promptCompleter{language: "português", merchant: "feirante", sentiment: "neutro", errFor: "tipo"}
	lead, err := NewExtractor(llm).Extract(context.Background(), "jid", "vendo na feira")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if lead.Has(models.LeadMerchantType) {
		t.Error("failed classification should omit tipo")
	}
	if lead.Get(models.LeadLanguage) != "português" || lead.Get(models.LeadSentiment) != "neutro" {
		t.Errorf("other classifications lost: %v", lead)
	}
}

func TestExtract_NoLLM(t *testing.T) {
	lead, _ := NewExtractor(nil).Extract(context.Background(), "jid", "cep 13010000")
	if lead.Get(models.LeadPostalCode) != "13010000" {
		t.Errorf("cep = %q", lead.Get(models.LeadPostalCode))
	}
	if lead.Has(models.LeadLanguage) {
		t.Error("language needs the llm")
	}
}

func TestExtractMarkers(t *testing.T) {
	tests := []struct {
		msg  string
		want models.Lead
	}{
		{"Cidade: Belo Horizonte", models.Lead{models.LeadCity: "belo"}},
		{"estado: MG email: JOAO@X.COM", models.Lead{models.LeadState: "mg", models.LeadEmail: "joao@x.com"}},
		{"cidade:", models.Lead{}},
		{"sem marcadores", models.Lead{}},
	}
	for _, tt := range tests {
		got := ExtractMarkers(tt.msg)
		if len(got) != len(tt.want) {
			t.Errorf("ExtractMarkers(%q) = %v, want %v", tt.msg, got, tt.want)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("ExtractMarkers(%q)[%s] = %q, want %q", tt.msg, k, got[k], v)
			}
		}
	}
}

func TestApplyPrecedence(t *testing.T) {
	stored := models.Lead{models.LeadCity: "santos"}
	markers := models.Lead{models.LeadCity: "campinas", models.LeadState: "sp"}

	over := ApplyPrecedence(stored, markers, PrecedenceOverride)
	if over[models.LeadCity] != "campinas" || over[models.LeadState] != "sp" {
		t.Errorf("override = %v", over)
	}
	fill := ApplyPrecedence(stored, markers, PrecedenceFill)
	if _, ok := fill[models.LeadCity]; ok || fill[models.LeadState] != "sp" {
		t.Errorf("fill = %v", fill)
	}
}

func TestParsePrecedence(t *testing.T) {
	for in, want := range map[string]Precedence{"": PrecedenceOverride, "OVERRIDE": PrecedenceOverride, " fill ": PrecedenceFill} {
		got, err := ParsePrecedence(in)
		if err != nil || got != want {
			t.Errorf("ParsePrecedence(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePrecedence("merge"); err == nil {
		t.Error("expected error for unknown precedence")
	}
}
