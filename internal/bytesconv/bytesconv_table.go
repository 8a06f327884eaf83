package bytesconv

var (
	// ToLowerTable 将 ASCII 大写字母映射为小写，其余字节不变。
	ToLowerTable [256]byte

	// Hex2intTable 将十六进制字符映射为其值，非十六进制字符为 16。
	Hex2intTable [256]byte

	// QuotedArgShouldEscapeTable 标记查询参数中需要百分号转义的字节。
	QuotedArgShouldEscapeTable [256]byte
)

func init() {
	for i := 0; i < 256; i++ {
		c := byte(i)

		ToLowerTable[i] = c
		if c >= 'A' && c <= 'Z' {
			ToLowerTable[i] = c + 'a' - 'A'
		}

		switch {
		case c >= '0' && c <= '9':
			Hex2intTable[i] = c - '0'
		case c >= 'a' && c <= 'f':
			Hex2intTable[i] = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			Hex2intTable[i] = c - 'A' + 10
		default:
			Hex2intTable[i] = 16
		}

		// 与 url.QueryEscape 一致：仅字母数字与 -_.~ 不转义
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == '~':
		default:
			QuotedArgShouldEscapeTable[i] = 1
		}
	}
}
