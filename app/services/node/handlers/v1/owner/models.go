package owner

type appendRequest struct {
	Payload []byte `json:"payload" validate:"required"`
}
