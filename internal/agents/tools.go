package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/messaging"
	"github.com/BTreeMap/SalesPipe/internal/reply"
	"github.com/BTreeMap/SalesPipe/internal/store"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

type recipientKey struct{}

// WithRecipient carries the customer jid that tools deliver media to.
func WithRecipient(ctx context.Context, remoteJID string) context.Context {
	return context.WithValue(ctx, recipientKey{}, remoteJID)
}

// RecipientFromContext returns the jid set by WithRecipient, or "".
func RecipientFromContext(ctx context.Context) string {
	v, _ := ctx.Value(recipientKey{}).(string)
	return v
}

// QueryProductsTool searches the catalogue by name and description.
type QueryProductsTool struct {
	products store.ProductRepo
}

func NewQueryProductsTool(products store.ProductRepo) *QueryProductsTool {
	return &QueryProductsTool{products: products}
}

func (t *QueryProductsTool) Name() string { return "query_products" }

func (t *QueryProductsTool) Definition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String("Busca produtos no catálogo da Negrita Calçados pelo nome e pela descrição."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Termo de busca para os produtos",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (t *QueryProductsTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("argumentos inválidos: %w", err)
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query é obrigatório")
	}
	found, err := t.products.SearchProducts(ctx, query)
	if err != nil {
		return "", fmt.Errorf("erro ao consultar produtos: %w", err)
	}
	slog.Debug("QueryProductsTool.Execute: search done", "query", query, "results", len(found))
	if len(found) == 0 {
		return errorJSON("Nenhum produto encontrado para: " + params.Query), nil
	}
	out, err := json.Marshal(found)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// SendProductImageTool sends the first product matching a name to the
// customer in the context.
type SendProductImageTool struct {
	products store.ProductRepo
	gateway  messaging.Gateway
}

func NewSendProductImageTool(products store.ProductRepo, gateway messaging.Gateway) *SendProductImageTool {
	return &SendProductImageTool{products: products, gateway: gateway}
}

func (t *SendProductImageTool) Name() string { return "send_product_image" }

func (t *SendProductImageTool) Definition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String("Envia ao cliente a imagem de um produto com legenda de nome, tamanho e preço."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"product_name": map[string]interface{}{
						"type":        "string",
						"description": "Nome do produto para buscar a imagem",
					},
				},
				"required": []string{"product_name"},
			},
		},
	}
}

func (t *SendProductImageTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		ProductName string `json:"product_name"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("argumentos inválidos: %w", err)
	}
	to := RecipientFromContext(ctx)
	if to == "" {
		return "", messaging.ErrEmptyRecipient
	}
	p, err := t.products.FindProductByName(ctx, strings.TrimSpace(params.ProductName))
	if err != nil {
		return "", fmt.Errorf("erro ao buscar produto: %w", err)
	}
	if p == nil {
		return "", fmt.Errorf("Nenhum produto encontrado para: %s", params.ProductName)
	}
	if strings.TrimSpace(p.ImageURL) == "" {
		return "", fmt.Errorf("Produto %s não tem imagem associada", p.Name)
	}
	if !p.HasHTTPImage() {
		slog.Error("SendProductImageTool.Execute: invalid image url", "remoteJID", to, "imageURL", p.ImageURL)
		return "", fmt.Errorf("Formato de image_url inválido: %s", p.ImageURL)
	}
	if err := t.gateway.SendImage(ctx, messaging.ImageMessage{To: to, URL: p.ImageURL, Caption: reply.Caption(*p)}); err != nil {
		return "", fmt.Errorf("Falha ao enviar imagem do produto %s: %w", p.Name, err)
	}
	slog.Info("SendProductImageTool.Execute: image sent", "remoteJID", to, "product", p.Name)
	return `{"text": ""}`, nil
}
