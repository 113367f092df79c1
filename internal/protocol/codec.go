package protocol

import "encoding/base64"

// EncodeBinary serializes m to its tagged binary form.
func EncodeBinary(m Message) []byte {
	return BuildMessage(m)
}

// DecodeBinary is the inverse of EncodeBinary.
func DecodeBinary(data []byte) (Message, error) {
	msg, err := ParseMessage(data)
	if err != nil {
		return nil, newEncodingError(ErrKindBinary, err)
	}
	return msg, nil
}

// EncodeText serializes m as standard padded base64 of its binary form.
// This is the payload of a WebSocket text frame.
func EncodeText(m Message) string {
	return base64.StdEncoding.EncodeToString(EncodeBinary(m))
}

// DecodeText is the inverse of EncodeText.
func DecodeText(text string) (Message, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, newEncodingError(ErrKindBase64, err)
	}
	return DecodeBinary(data)
}
