package inference

// Wire messages shared by the HTTP and Arrow Flight transports.

type LoadRequest struct {
	ModelSpec
}

type LoadResponse struct {
	ModelID string `json:"model_id"`
	Device  string `json:"device"`
}

type TokenizeRequest struct {
	ModelID string `json:"model_id"`
	Text    string `json:"text"`
	EncodeOptions
}

type TokenizeResponse struct {
	Encoding
}

type TokenIDsRequest struct {
	ModelID string   `json:"model_id"`
	Tokens  []string `json:"tokens"`
}

// TokenIDsResponse maps each requested token to its id; -1 marks an unknown token.
type TokenIDsResponse struct {
	IDs []int32 `json:"ids"`
}

type GenerateRequest struct {
	ModelID string `json:"model_id"`
	Encoding
	GenerateOptions
}

type GenerateResponse struct {
	Sequences [][]int32 `json:"sequences"`
}

type DecodeRequest struct {
	ModelID  string  `json:"model_id"`
	TokenIDs []int32 `json:"token_ids"`
	DecodeOptions
}

type DecodeResponse struct {
	Text string `json:"text"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
