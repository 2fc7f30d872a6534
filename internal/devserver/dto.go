package devserver

import (
	"strconv"

	"taskmate/internal/domain"
)

// Request payloads. Field names follow the production backend.

type LoginBody struct {
	Email string `json:"email"`
	Senha string `json:"senha"`
}

type RegisterBody struct {
	NmUsuario     string `json:"nmUsuario"`
	NmEmail       string `json:"nmEmail"`
	NmSenha       string `json:"nmSenha"`
	CdTelefone    string `json:"cdTelefone"`
	CdTipoUsuario int    `json:"cdTipoUsuario"`
}

func (b RegisterBody) request() domain.RegisterRequest {
	return domain.RegisterRequest{
		Username: b.NmUsuario,
		Email:    b.NmEmail,
		Password: b.NmSenha,
		Phone:    b.CdTelefone,
		TypeID:   b.CdTipoUsuario,
	}
}

type UpdateProfileBody struct {
	Nome      string `json:"nome,omitempty"`
	Email     string `json:"email,omitempty"`
	Telefone  string `json:"telefone,omitempty"`
	NovaSenha string `json:"novaSenha,omitempty"`
}

// TaskBody is shared by create and update; cdUsuario is only read on create.
type TaskBody struct {
	Nome         string   `json:"nome"`
	CdUsuario    int64    `json:"cdUsuario,omitempty"`
	Descricao    string   `json:"descricao,omitempty"`
	CdPrioridade int      `json:"cdPrioridade,omitempty"`
	DataPrazo    *string  `json:"dataPrazo,omitempty" nullable:"true"`
	TagNomes     []string `json:"tagNomes,omitempty" nullable:"true"`
}

func (b TaskBody) fields() (taskFields, error) {
	f := taskFields{
		Name:        b.Nome,
		Description: b.Descricao,
		PriorityID:  b.CdPrioridade,
		TagNames:    b.TagNomes,
	}
	if b.DataPrazo != nil && *b.DataPrazo != "" {
		var ts domain.Timestamp
		if err := ts.UnmarshalJSON([]byte(strconv.Quote(*b.DataPrazo))); err != nil {
			return taskFields{}, err
		}
		f.Due = &ts
	}
	return f, nil
}

// envelopeOutput wraps every successful response body.
type envelopeOutput[T any] struct {
	Body domain.Envelope[T] `json:"body"`
}

func ok[T any](message string, data T) *envelopeOutput[T] {
	return &envelopeOutput[T]{Body: domain.Envelope[T]{Success: true, Message: message, Data: data}}
}
