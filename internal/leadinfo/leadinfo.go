// Package leadinfo extracts lead fields from customer messages: structured
// values by regex, and language, merchant type and sentiment by LLM.
package leadinfo

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

// ClassificationTemperature is used for every LLM classification.
const ClassificationTemperature = 0.2

var (
	emailPattern      = regexp.MustCompile(`(?i)[\w.-]+@[\w.-]+\.\w+`)
	postalCodePattern = regexp.MustCompile(`\d{5}-?\d{3}`)
	birthDatePattern  = regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\b`)
)

// Completer is the part of the GenAI client the extractor needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
}

// Extractor derives lead fields from a single message.
type Extractor struct {
	llm Completer
	now func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock replaces time.Now for ult_contato.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// NewExtractor creates an Extractor. A nil llm skips the LLM classifications.
func NewExtractor(llm Completer, opts ...Option) *Extractor {
	e := &Extractor{llm: llm, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the fields found in message, always including ult_contato.
// A failed classification is logged and omits only its own field. The result
// is not sanitized; callers pass it through models.Lead.Sanitize before storing.
func (e *Extractor) Extract(ctx context.Context, remoteJID, message string) (models.Lead, error) {
	lead := models.Lead{}
	if m := emailPattern.FindString(message); m != "" {
		lead[models.LeadEmail] = m
	}
	if m := postalCodePattern.FindString(message); m != "" {
		lead[models.LeadPostalCode] = m
	}
	if m := birthDatePattern.FindString(message); m != "" {
		lead[models.LeadBirthDate] = m
	}

	if e.llm != nil {
		language, merchant, sentiment := e.classify(ctx, remoteJID, message)
		if language != "" {
			lead[models.LeadLanguage] = language
		}
		if merchant != "" && models.MerchantType(merchant) != models.MerchantNone {
			lead[models.LeadMerchantType] = merchant
		}
		if models.IsValidSentiment(models.Sentiment(sentiment)) {
			lead[models.LeadSentiment] = sentiment
		}
	}

	lower := strings.ToLower(message)
	if v := markerValue(lower, "cidade:"); v != "" {
		lead[models.LeadCity] = v
	}
	if v := markerValue(lower, "estado:"); v != "" {
		lead[models.LeadState] = v
	}
	lead[models.LeadLastContact] = models.Timestamp(e.now())

	slog.Info("Extractor.Extract: lead info extracted", "remoteJID", remoteJID, "fields", lead.Fields())
	return lead, nil
}

// classify runs the three classifications concurrently and waits for all of them.
func (e *Extractor) classify(ctx context.Context, remoteJID, message string) (language, merchant, sentiment string) {
	var wg sync.WaitGroup
	run := func(name, prompt string, out *string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answer, err := e.llm.Complete(ctx, prompt, ClassificationTemperature)
			if err != nil {
				slog.Error("Extractor.classify: classification failed", "remoteJID", remoteJID, "field", name, "error", err)
				return
			}
			*out = normalizeAnswer(answer)
		}()
	}
	run("idioma", languagePrompt(message), &language)
	run("tipo", merchantPrompt(message), &merchant)
	run("sentimento", sentimentPrompt(message), &sentiment)
	wg.Wait()
	return language, strings.ToLower(merchant), strings.ToLower(sentiment)
}

// normalizeAnswer strips whitespace, quotes and a trailing period from a one-word answer.
func normalizeAnswer(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`+"`")
	s = strings.TrimSuffix(s, ".")
	return strings.TrimSpace(s)
}

func languagePrompt(message string) string {
	return fmt.Sprintf("Detecte o idioma principal da mensagem: '%s'. Retorne apenas o nome do idioma (ex.: 'português').", message)
}

func merchantPrompt(message string) string {
	return fmt.Sprintf(`Analise a mensagem: '%s'.
Determine se o usuário mencionou ser um tipo de comerciante (lojista, revendedor, sacoleiro, feirante).
Exemplos:
- "tenho loja", "sou lojista", "dono de loja", "sou comerciante", "minha loja" → lojista
- "faço revenda", "sou revendedor", "revendo produtos", "vendo no atacado" → revendedor
- "vendo em casa", "sou sacoleiro", "vendo de porta em porta" → sacoleiro
- "sou feirante", "vendo na feira", "tenho barraca", "vendo no mercado" → feirante
Retorne apenas o tipo de comerciante (ex.: 'lojista') ou 'nenhum' se não for mencionado.`, message)
}

func sentimentPrompt(message string) string {
	return fmt.Sprintf(`Analise o sentimento da mensagem: '%s'.
Determine se o sentimento é positivo, negativo ou neutro.
Exemplos:
- "Adorei os tênis!" → positivo
- "Não recebi meu pedido!" → negativo
- "Quero ver o catálogo" → neutro
Retorne apenas o sentimento (ex.: 'positivo', 'negativo', 'neutro').`, message)
}
