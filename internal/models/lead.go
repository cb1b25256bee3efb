package models

import (
	"sort"
	"strings"
	"time"
)

// LeadField names a column of the leads table. Values are the store column names.
type LeadField string

const (
	LeadRemoteJID     LeadField = "remotejid"
	LeadCustomerName  LeadField = "nome_cliente"
	LeadPushName      LeadField = "pushname"
	LeadPhone         LeadField = "telefone"
	LeadCity          LeadField = "cidade"
	LeadState         LeadField = "estado"
	LeadEmail         LeadField = "email"
	LeadMerchantType  LeadField = "tipo"
	LeadBirthDate     LeadField = "data_aniversario"
	LeadLanguage      LeadField = "idioma"
	LeadAudio         LeadField = "audio"
	LeadThreadID      LeadField = "thread_id"
	LeadCreatedAt     LeadField = "data_cadastro"
	LeadUpdatedAt     LeadField = "data_ultima_alteracao"
	LeadLastSubject   LeadField = "ult_assunto"
	LeadGoogleID      LeadField = "id_google"
	LeadFollowup      LeadField = "followup"
	LeadFollowupDate  LeadField = "followup_data"
	LeadLastContact   LeadField = "ult_contato"
	LeadPostalCode    LeadField = "cep"
	LeadAddress       LeadField = "endereco"
	LeadAdmin         LeadField = "adm"
	LeadFlag          LeadField = "lead"
	LeadInstance      LeadField = "instancia"
	LeadAgent         LeadField = "agente"
	LeadAgentThread   LeadField = "thread_ag"
	LeadAwareness     LeadField = "conciencia"
	LeadLastLeadCheck LeadField = "ult_verifica_lead"
	LeadVerifier      LeadField = "verificador"
	LeadKommoID       LeadField = "id_kommo"
	LeadSentiment     LeadField = "sentimento"
)

// LeadFields is the allow-list of recognized lead columns, in table order.
var LeadFields = []LeadField{
	LeadRemoteJID, LeadCustomerName, LeadPushName, LeadPhone, LeadCity, LeadState,
	LeadEmail, LeadMerchantType, LeadBirthDate, LeadLanguage, LeadAudio, LeadThreadID,
	LeadCreatedAt, LeadUpdatedAt, LeadLastSubject, LeadGoogleID, LeadFollowup,
	LeadFollowupDate, LeadLastContact, LeadPostalCode, LeadAddress, LeadAdmin, LeadFlag,
	LeadInstance, LeadAgent, LeadAgentThread, LeadAwareness, LeadLastLeadCheck,
	LeadVerifier, LeadKommoID, LeadSentiment,
}

var leadFieldSet = func() map[LeadField]struct{} {
	set := make(map[LeadField]struct{}, len(LeadFields))
	for _, f := range LeadFields {
		set[f] = struct{}{}
	}
	return set
}()

// IsValidLeadField reports whether f is a recognized lead column.
func IsValidLeadField(f LeadField) bool {
	_, ok := leadFieldSet[f]
	return ok
}

// MerchantType is the kind of reseller a lead identifies as.
type MerchantType string

const (
	MerchantShopkeeper MerchantType = "lojista"
	MerchantReseller   MerchantType = "revendedor"
	MerchantPeddler    MerchantType = "sacoleiro"
	MerchantFairVendor MerchantType = "feirante"

	// MerchantNone is what the classifier answers when no type applies. It is never stored.
	MerchantNone MerchantType = "nenhum"
)

// IsValidMerchantType checks if the given merchant type may be stored.
func IsValidMerchantType(t MerchantType) bool {
	switch t {
	case MerchantShopkeeper, MerchantReseller, MerchantPeddler, MerchantFairVendor:
		return true
	default:
		return false
	}
}

// Sentiment is the coarse tone of a customer message.
type Sentiment string

const (
	SentimentPositive Sentiment = "positivo"
	SentimentNegative Sentiment = "negativo"
	SentimentNeutral  Sentiment = "neutro"
)

// IsValidSentiment checks if the given sentiment may be stored.
func IsValidSentiment(s Sentiment) bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	default:
		return false
	}
}

// Lead is a sparse customer record keyed by remote jid.
// Absent keys mean "unknown"; an upsert only overwrites the keys it carries.
type Lead map[LeadField]string

// Get returns the value stored for f, or "" when absent.
func (l Lead) Get(f LeadField) string {
	if l == nil {
		return ""
	}
	return l[f]
}

// Has reports whether f carries a non-empty value.
func (l Lead) Has(f LeadField) bool {
	return l.Get(f) != ""
}

// ThreadID returns the conversation handle recorded for the lead.
func (l Lead) ThreadID() string {
	return l.Get(LeadThreadID)
}

// Merge copies every field of other into l, overwriting existing values.
func (l Lead) Merge(other Lead) {
	for k, v := range other {
		l[k] = v
	}
}

// Fields returns the lead's columns in allow-list order.
func (l Lead) Fields() []LeadField {
	fields := make([]LeadField, 0, len(l))
	for _, f := range LeadFields {
		if _, ok := l[f]; ok {
			fields = append(fields, f)
		}
	}
	return fields
}

// SanitizeLead keeps only recognized columns with non-empty values and drops
// merchant types and sentiments outside their enumerations. It returns the
// sanitized lead and the sorted list of keys that were filtered out.
func SanitizeLead(raw map[string]string) (Lead, []string) {
	lead := make(Lead, len(raw))
	var dropped []string
	for k, v := range raw {
		field := LeadField(strings.TrimSpace(k))
		if !IsValidLeadField(field) {
			dropped = append(dropped, k)
			continue
		}
		if v == "" {
			continue
		}
		switch field {
		case LeadMerchantType:
			if !IsValidMerchantType(MerchantType(v)) {
				dropped = append(dropped, k)
				continue
			}
		case LeadSentiment:
			if !IsValidSentiment(Sentiment(v)) {
				dropped = append(dropped, k)
				continue
			}
		}
		lead[field] = v
	}
	sort.Strings(dropped)
	return lead, dropped
}

// Sanitize re-validates an already typed lead.
func (l Lead) Sanitize() (Lead, []string) {
	raw := make(map[string]string, len(l))
	for k, v := range l {
		raw[string(k)] = v
	}
	return SanitizeLead(raw)
}

// PhoneFromJID strips the WhatsApp user suffix from a remote jid.
func PhoneFromJID(remoteJID string) string {
	return strings.TrimSuffix(remoteJID, WhatsAppUserSuffix)
}

// Timestamp formats t the way lead timestamps are stored.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
