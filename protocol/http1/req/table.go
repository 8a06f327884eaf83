package req

// State 是请求解析状态。
type State uint8

// 请求解析状态，按出现顺序排列。
const (
	StateStart State = iota
	StateMethod
	StateMethodURISpace
	StateURI
	StateURIVersionSpace
	StateVersion
	StateHeaderLine
	StateHeaderName
	StateHeaderValue
	StateBodyContent
	StateBodyChunked
	StateBodyMultipart
	StateDone

	numLineStates = StateHeaderValue + 1
)

var stateNames = [...]string{
	"Start", "Method", "MethodURISpace", "URI", "URIVersionSpace", "Version",
	"HeaderLine", "HeaderName", "HeaderValue",
	"BodyContent", "BodyChunked", "BodyMultipart", "Done",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

type byteClass uint8

const (
	classToken byteClass = iota
	classSpace
	classColon
	classCR
	classLF
	classCTL
	numClasses
)

type action uint8

const (
	actSkip       action = iota // 丢弃该字节
	actAppend                   // 追加到当前记号
	actMethod                   // 结束方法
	actURI                      // 结束请求目标
	actURIEnd09                 // 结束请求目标，且请求行无版本
	actEnd09                    // 请求行无版本
	actVersion                  // 结束版本
	actName                     // 结束标头名称
	actValue                    // 结束标头值
	actFold                     // 标头值续行
	actHeadEnd                  // 标头结束
	actBadRequest               // 非法字节
)

type transition struct {
	next State
	act  action
}

var (
	byteClasses [256]byteClass

	// 行阶段的状态转移表：(状态, 字节类别) -> (下一状态, 动作)。
	// 正文阶段按块处理，不经过此表。
	transitions = [numLineStates][numClasses]transition{
		StateStart: {
			classToken: {StateMethod, actAppend},
			classSpace: {StateStart, actBadRequest},
			classColon: {StateStart, actBadRequest},
			classCR:    {StateStart, actSkip},
			classLF:    {StateStart, actSkip},
			classCTL:   {StateStart, actBadRequest},
		},
		StateMethod: {
			classToken: {StateMethod, actAppend},
			classSpace: {StateMethodURISpace, actMethod},
			classColon: {StateMethod, actBadRequest},
			classCR:    {StateMethod, actBadRequest},
			classLF:    {StateMethod, actBadRequest},
			classCTL:   {StateMethod, actBadRequest},
		},
		StateMethodURISpace: {
			classToken: {StateURI, actAppend},
			classSpace: {StateMethodURISpace, actSkip},
			classColon: {StateURI, actAppend},
			classCR:    {StateMethodURISpace, actBadRequest},
			classLF:    {StateMethodURISpace, actBadRequest},
			classCTL:   {StateMethodURISpace, actBadRequest},
		},
		StateURI: {
			classToken: {StateURI, actAppend},
			classSpace: {StateURIVersionSpace, actURI},
			classColon: {StateURI, actAppend},
			classCR:    {StateDone, actURIEnd09},
			classLF:    {StateDone, actURIEnd09},
			classCTL:   {StateURI, actBadRequest},
		},
		StateURIVersionSpace: {
			classToken: {StateVersion, actAppend},
			classSpace: {StateURIVersionSpace, actSkip},
			classColon: {StateVersion, actAppend},
			classCR:    {StateDone, actEnd09},
			classLF:    {StateDone, actEnd09},
			classCTL:   {StateURIVersionSpace, actBadRequest},
		},
		StateVersion: {
			classToken: {StateVersion, actAppend},
			classSpace: {StateVersion, actBadRequest},
			classColon: {StateVersion, actBadRequest},
			classCR:    {StateHeaderLine, actVersion},
			classLF:    {StateHeaderLine, actVersion},
			classCTL:   {StateVersion, actBadRequest},
		},
		StateHeaderLine: {
			classToken: {StateHeaderName, actAppend},
			classSpace: {StateHeaderValue, actFold},
			classColon: {StateHeaderLine, actBadRequest},
			classCR:    {StateDone, actHeadEnd},
			classLF:    {StateDone, actHeadEnd},
			classCTL:   {StateHeaderLine, actBadRequest},
		},
		StateHeaderName: {
			classToken: {StateHeaderName, actAppend},
			classSpace: {StateHeaderName, actBadRequest},
			classColon: {StateHeaderValue, actName},
			classCR:    {StateHeaderName, actBadRequest},
			classLF:    {StateHeaderName, actBadRequest},
			classCTL:   {StateHeaderName, actBadRequest},
		},
		StateHeaderValue: {
			classToken: {StateHeaderValue, actAppend},
			classSpace: {StateHeaderValue, actAppend},
			classColon: {StateHeaderValue, actAppend},
			classCR:    {StateHeaderLine, actValue},
			classLF:    {StateHeaderLine, actValue},
			classCTL:   {StateHeaderValue, actBadRequest},
		},
	}
)

func init() {
	for i := 0; i < 256; i++ {
		c := byte(i)
		switch {
		case c == ' ' || c == '\t':
			byteClasses[i] = classSpace
		case c == ':':
			byteClasses[i] = classColon
		case c == '\r':
			byteClasses[i] = classCR
		case c == '\n':
			byteClasses[i] = classLF
		case c < 0x20 || c == 0x7f:
			byteClasses[i] = classCTL
		default:
			byteClasses[i] = classToken
		}
	}
}

// step 返回行阶段状态 s 遇到字节 c 时的转移。
func step(s State, c byte) transition {
	return transitions[s][byteClasses[c]]
}
