package agents

import (
	"github.com/BTreeMap/SalesPipe/internal/messaging"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

const (
	TriageAgentName  = "Triage Agent"
	ProductAgentName = "Product Agent"
	SupportAgentName = "Support Agent"
)

const productInstructions = `Você é a Rayane, assistente virtual da Negrita Calçados. Use a ferramenta query_products para buscar produtos no catálogo, procurando em nome e descrição.
- Para perguntas gerais sobre produtos (ex.: 'Tem tênis?'), use query_products e retorne um JSON com a lista de produtos: {"products": [{"name": "...", "size": "...", "price": "...", "image_url": "..."}, ...]}.
- Para solicitações de imagem (ex.: 'Quero ver a imagem do Puma'), use send_product_image para enviar a imagem com uma legenda descritiva (ex.: 'Puma RS-X, tamanho 38, R$199.99') e retorne {"text": ""} para evitar mensagens de texto extras.
- Para mensagens que começam com 'Imagem recebida:', use a descrição da imagem para buscar produtos parecidos com query_products.
- Se a busca não retornar resultados, retorne {"text": "Não encontrei esse produto, posso verificar com a equipe. Pode mandar mais detalhes, como cor ou tamanho?"}
- Sempre retorne a resposta como um JSON no formato: {"text": "..."} ou {"products": [...]}.
- Pergunte por informações adicionais (cidade, estado, email) se relevante e ainda não fornecidas.`

const supportInstructions = `Você é a Rayane, assistente virtual da Negrita Calçados. Auxilie com perguntas de suporte ao cliente, como rastreamento de pedidos, devoluções ou políticas da loja. Forneça respostas educadas e úteis. Exemplo: {"text": "Vou verificar o status do pedido #1234."}. Pergunte por informações adicionais (cidade, estado, email) se relevante. Sempre retorne a resposta como um JSON no formato: {"text": "Resposta textual"}.`

const triageInstructions = `Você é a Rayane, assistente virtual da Negrita Calçados. Analise o histórico da conversa e a nova mensagem para determinar qual agente usar:
- Encaminhe perguntas relacionadas a produtos (ex.: 'Vocês têm tênis Nike?', 'Tem tênis?', 'Quero ver a imagem do Puma' ou mensagens com imagens) para o Product Agent.
- Encaminhe perguntas de suporte (ex.: 'Onde está meu pedido?') para o Support Agent.
- Para mensagens genéricas (ex.: 'Olá', 'Bom dia'), retorne {"text": "Olá! Como posso ajudar com seus calçados hoje?"}
- Para pedidos de resposta em áudio (ex.: 'responda em áudio'), passe a mensagem ao agente apropriado sem adicionar texto extra, permitindo que a resposta seja convertida em áudio.
- Considere o contexto do histórico (ex.: se o usuário mencionou ser comerciante, mantenha essa informação em mente).
- Sempre retorne a resposta como um JSON no formato: {"text": "Resposta textual"}.
- Pergunte por informações adicionais (cidade, estado, email) se necessário e ainda não fornecidas.`

// Set holds the three wired agents.
type Set struct {
	Triage  *Agent
	Product *Agent
	Support *Agent
}

// NewSet builds the product and support specialists and the triage agent
// that hands off to them. An empty model uses the runner default.
func NewSet(model string, products store.ProductRepo, gateway messaging.Gateway) *Set {
	product := &Agent{
		Name:               ProductAgentName,
		HandoffDescription: "Especialista em produtos: encontrar calçados, verificar tamanhos, recomendar produtos ou analisar imagens.",
		Instructions:       productInstructions,
		Model:              model,
		Tools: []Tool{
			NewQueryProductsTool(products),
			NewSendProductImageTool(products, gateway),
		},
	}
	support := &Agent{
		Name:               SupportAgentName,
		HandoffDescription: "Especialista em suporte: status de pedidos, devoluções e dúvidas gerais.",
		Instructions:       supportInstructions,
		Model:              model,
	}
	triage := &Agent{
		Name:         TriageAgentName,
		Instructions: triageInstructions,
		Model:        model,
		Handoffs:     []*Agent{product, support},
	}
	return &Set{Triage: triage, Product: product, Support: support}
}
