package models

// Reply is the canonical agent response. It is either a TextReply or a
// ProductListReply, never both.
type Reply interface {
	isReply()
}

// TextReply is a plain text answer. Text may be empty when the agent already
// delivered its content through a tool.
type TextReply struct {
	Text string
}

// ProductListReply carries the products an agent found for the customer.
type ProductListReply struct {
	Products []Product
}

func (TextReply) isReply()        {}
func (ProductListReply) isReply() {}

// ReplyText returns the text of a TextReply, or "" for other variants.
func ReplyText(r Reply) string {
	if t, ok := r.(TextReply); ok {
		return t.Text
	}
	return ""
}
