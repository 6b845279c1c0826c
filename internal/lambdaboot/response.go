package lambdaboot

import (
	"encoding/json"
)

// Response is the HTTP-style result returned by the ingest and process
// Lambdas: {"statusCode": 200, "body": "{\"message\": ...}"}.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Message builds a response whose body is {"message": msg}.
func Message(status int, msg string) Response {
	return jsonResponse(status, map[string]string{"message": msg})
}

// Error builds a response whose body is {"error": msg}.
func Error(status int, msg string) Response {
	return jsonResponse(status, map[string]string{"error": msg})
}

func jsonResponse(status int, body interface{}) Response {
	b, _ := json.Marshal(body)
	return Response{StatusCode: status, Body: string(b)}
}
