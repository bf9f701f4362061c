package vm

// Opcode is an instruction identifier. Opcodes are dense so the dispatch
// switch compiles to a jump table.
type Opcode int32

const (
	OpOperator Opcode = iota
	OpOperatorValidated
	OpTypeTestBuiltin
	OpTypeTestArray
	OpTypeTestMap
	OpTypeTestNative
	OpTypeTestScript
	OpSetKeyed
	OpSetKeyedValidated
	OpSetIndexedValidated
	OpGetKeyed
	OpGetKeyedValidated
	OpGetIndexedValidated
	OpSetNamed
	OpSetNamedValidated
	OpGetNamed
	OpGetNamedValidated
	OpSetMember
	OpGetMember
	OpSetStaticVariable
	OpGetStaticVariable
	OpAssign
	OpAssignNull
	OpAssignTrue
	OpAssignFalse
	OpAssignTypedBuiltin
	OpAssignTypedArray
	OpAssignTypedMap
	OpAssignTypedNative
	OpAssignTypedScript
	OpCastToBuiltin
	OpCastToNative
	OpCastToScript
	OpConstruct
	OpConstructValidated
	OpConstructArray
	OpConstructTypedArray
	OpConstructMap
	OpConstructTypedMap
	OpCall
	OpCallReturn
	OpCallAsync
	OpCallUtility
	OpCallUtilityValidated
	OpCallScriptUtility
	OpCallBuiltinTypeValidated
	OpCallSelfBase
	OpCallMethodBind
	OpCallMethodBindRet
	OpCallBuiltinStatic
	OpCallNativeStatic
	OpCallNativeStaticValidatedReturn
	OpCallNativeStaticValidatedNoReturn
	OpCallMethodBindValidatedReturn
	OpCallMethodBindValidatedNoReturn
	OpAwait
	OpAwaitResume
	OpCreateLambda
	OpCreateSelfLambda
	OpJump
	OpJumpIf
	OpJumpIfNot
	OpJumpToDefArgument
	OpJumpIfShared
	OpReturn
	OpReturnTypedBuiltin
	OpReturnTypedArray
	OpReturnTypedMap
	OpReturnTypedNative
	OpReturnTypedScript
	OpIterateBegin
	OpIterateBeginInt
	OpIterateBeginFloat
	OpIterateBeginVector2
	OpIterateBeginVector2i
	OpIterateBeginVector3
	OpIterateBeginVector3i
	OpIterateBeginString
	OpIterateBeginMap
	OpIterateBeginArray
	OpIterateBeginPackedByteArray
	OpIterateBeginPackedInt32Array
	OpIterateBeginPackedInt64Array
	OpIterateBeginPackedFloat32Array
	OpIterateBeginPackedFloat64Array
	OpIterateBeginPackedStringArray
	OpIterateBeginObject
	OpIterateBeginRange
	OpIterate
	OpIterateInt
	OpIterateFloat
	OpIterateVector2
	OpIterateVector2i
	OpIterateVector3
	OpIterateVector3i
	OpIterateString
	OpIterateMap
	OpIterateArray
	OpIteratePackedByteArray
	OpIteratePackedInt32Array
	OpIteratePackedInt64Array
	OpIteratePackedFloat32Array
	OpIteratePackedFloat64Array
	OpIteratePackedStringArray
	OpIterateObject
	OpIterateRange
	OpStoreGlobal
	OpStoreNamedGlobal
	OpTypeAdjustBool
	OpTypeAdjustInt
	OpTypeAdjustFloat
	OpTypeAdjustString
	OpTypeAdjustVector2
	OpTypeAdjustVector2i
	OpTypeAdjustVector3
	OpTypeAdjustVector3i
	OpTypeAdjustObject
	OpTypeAdjustCallable
	OpTypeAdjustSignal
	OpTypeAdjustMap
	OpTypeAdjustArray
	OpTypeAdjustPackedByteArray
	OpTypeAdjustPackedInt32Array
	OpTypeAdjustPackedInt64Array
	OpTypeAdjustPackedFloat32Array
	OpTypeAdjustPackedFloat64Array
	OpTypeAdjustPackedStringArray
	OpAssert
	OpBreakpoint
	OpLine
	OpEnd
	OpcodeMax
)

// Operand kinds, one letter per word:
//
//	a  address            j  jump target        n  name index
//	t  builtin Type       o  Operator           e  validated operator index
//	x  accessor index     k  constructor index  b  builtin method index
//	y  type info index    f  lambda index       g  global index
//	s  script utility     c  plain integer      m  method bind index
//	u  utility index      l  debug node id
//
// Variadic instructions are laid out as
//
//	op, argc, lead..., args[argc]..., trail...
//
// where args are addresses.
type OpcodeInfo struct {
	Name     string
	Lead     string
	Operands string
	Variadic bool
}

// Len returns the instruction length in words for argc variadic arguments.
func (i *OpcodeInfo) Len(argc int) int {
	if !i.Variadic {
		return 1 + len(i.Operands)
	}
	return 2 + len(i.Lead) + argc + len(i.Operands)
}

var opcodeInfo = [OpcodeMax]OpcodeInfo{
	OpOperator:                          {Name: "OPERATOR", Operands: "aaao"},
	OpOperatorValidated:                 {Name: "OPERATOR_VALIDATED", Operands: "aaae"},
	OpTypeTestBuiltin:                   {Name: "TYPE_TEST_BUILTIN", Operands: "aat"},
	OpTypeTestArray:                     {Name: "TYPE_TEST_ARRAY", Operands: "aay"},
	OpTypeTestMap:                       {Name: "TYPE_TEST_MAP", Operands: "aay"},
	OpTypeTestNative:                    {Name: "TYPE_TEST_NATIVE", Operands: "aay"},
	OpTypeTestScript:                    {Name: "TYPE_TEST_SCRIPT", Operands: "aay"},
	OpSetKeyed:                          {Name: "SET_KEYED", Operands: "aaa"},
	OpSetKeyedValidated:                 {Name: "SET_KEYED_VALIDATED", Operands: "aaax"},
	OpSetIndexedValidated:               {Name: "SET_INDEXED_VALIDATED", Operands: "aaax"},
	OpGetKeyed:                          {Name: "GET_KEYED", Operands: "aaa"},
	OpGetKeyedValidated:                 {Name: "GET_KEYED_VALIDATED", Operands: "aaax"},
	OpGetIndexedValidated:               {Name: "GET_INDEXED_VALIDATED", Operands: "aaax"},
	OpSetNamed:                          {Name: "SET_NAMED", Operands: "aan"},
	OpSetNamedValidated:                 {Name: "SET_NAMED_VALIDATED", Operands: "aax"},
	OpGetNamed:                          {Name: "GET_NAMED", Operands: "aan"},
	OpGetNamedValidated:                 {Name: "GET_NAMED_VALIDATED", Operands: "aax"},
	OpSetMember:                         {Name: "SET_MEMBER", Operands: "an"},
	OpGetMember:                         {Name: "GET_MEMBER", Operands: "an"},
	OpSetStaticVariable:                 {Name: "SET_STATIC_VARIABLE", Operands: "aac"},
	OpGetStaticVariable:                 {Name: "GET_STATIC_VARIABLE", Operands: "aac"},
	OpAssign:                            {Name: "ASSIGN", Operands: "aa"},
	OpAssignNull:                        {Name: "ASSIGN_NULL", Operands: "a"},
	OpAssignTrue:                        {Name: "ASSIGN_TRUE", Operands: "a"},
	OpAssignFalse:                       {Name: "ASSIGN_FALSE", Operands: "a"},
	OpAssignTypedBuiltin:                {Name: "ASSIGN_TYPED_BUILTIN", Operands: "aat"},
	OpAssignTypedArray:                  {Name: "ASSIGN_TYPED_ARRAY", Operands: "aay"},
	OpAssignTypedMap:                    {Name: "ASSIGN_TYPED_MAP", Operands: "aay"},
	OpAssignTypedNative:                 {Name: "ASSIGN_TYPED_NATIVE", Operands: "aay"},
	OpAssignTypedScript:                 {Name: "ASSIGN_TYPED_SCRIPT", Operands: "aay"},
	OpCastToBuiltin:                     {Name: "CAST_TO_BUILTIN", Operands: "aat"},
	OpCastToNative:                      {Name: "CAST_TO_NATIVE", Operands: "aay"},
	OpCastToScript:                      {Name: "CAST_TO_SCRIPT", Operands: "aay"},
	OpConstruct:                         {"CONSTRUCT", "", "at", true},
	OpConstructValidated:                {"CONSTRUCT_VALIDATED", "", "ak", true},
	OpConstructArray:                    {"CONSTRUCT_ARRAY", "", "a", true},
	OpConstructTypedArray:               {"CONSTRUCT_TYPED_ARRAY", "", "ay", true},
	OpConstructMap:                      {"CONSTRUCT_MAP", "", "a", true},
	OpConstructTypedMap:                 {"CONSTRUCT_TYPED_MAP", "", "ay", true},
	OpCall:                              {"CALL", "a", "n", true},
	OpCallReturn:                        {"CALL_RETURN", "a", "an", true},
	OpCallAsync:                         {"CALL_ASYNC", "a", "an", true},
	OpCallUtility:                       {"CALL_UTILITY", "", "an", true},
	OpCallUtilityValidated:              {"CALL_UTILITY_VALIDATED", "", "au", true},
	OpCallScriptUtility:                 {"CALL_SCRIPT_UTILITY", "", "as", true},
	OpCallBuiltinTypeValidated:          {"CALL_BUILTIN_TYPE_VALIDATED", "a", "ab", true},
	OpCallSelfBase:                      {"CALL_SELF_BASE", "", "an", true},
	OpCallMethodBind:                    {"CALL_METHOD_BIND", "a", "m", true},
	OpCallMethodBindRet:                 {"CALL_METHOD_BIND_RET", "a", "am", true},
	OpCallBuiltinStatic:                 {"CALL_BUILTIN_STATIC", "", "atn", true},
	OpCallNativeStatic:                  {"CALL_NATIVE_STATIC", "", "am", true},
	OpCallNativeStaticValidatedReturn:   {"CALL_NATIVE_STATIC_VALIDATED_RETURN", "", "am", true},
	OpCallNativeStaticValidatedNoReturn: {"CALL_NATIVE_STATIC_VALIDATED_NO_RETURN", "", "m", true},
	OpCallMethodBindValidatedReturn:     {"CALL_METHOD_BIND_VALIDATED_RETURN", "a", "am", true},
	OpCallMethodBindValidatedNoReturn:   {"CALL_METHOD_BIND_VALIDATED_NO_RETURN", "a", "m", true},
	OpAwait:                             {Name: "AWAIT", Operands: "a"},
	OpAwaitResume:                       {Name: "AWAIT_RESUME", Operands: "a"},
	OpCreateLambda:                      {"CREATE_LAMBDA", "", "af", true},
	OpCreateSelfLambda:                  {"CREATE_SELF_LAMBDA", "", "af", true},
	OpJump:                              {Name: "JUMP", Operands: "j"},
	OpJumpIf:                            {Name: "JUMP_IF", Operands: "aj"},
	OpJumpIfNot:                         {Name: "JUMP_IF_NOT", Operands: "aj"},
	OpJumpToDefArgument:                 {Name: "JUMP_TO_DEF_ARGUMENT", Operands: ""},
	OpJumpIfShared:                      {Name: "JUMP_IF_SHARED", Operands: "aj"},
	OpReturn:                            {Name: "RETURN", Operands: "a"},
	OpReturnTypedBuiltin:                {Name: "RETURN_TYPED_BUILTIN", Operands: "at"},
	OpReturnTypedArray:                  {Name: "RETURN_TYPED_ARRAY", Operands: "ay"},
	OpReturnTypedMap:                    {Name: "RETURN_TYPED_MAP", Operands: "ay"},
	OpReturnTypedNative:                 {Name: "RETURN_TYPED_NATIVE", Operands: "ay"},
	OpReturnTypedScript:                 {Name: "RETURN_TYPED_SCRIPT", Operands: "ay"},
	OpIterateBegin:                      {Name: "ITERATE_BEGIN", Operands: "aaaj"},
	OpIterateBeginInt:                   {Name: "ITERATE_BEGIN_INT", Operands: "aaaj"},
	OpIterateBeginFloat:                 {Name: "ITERATE_BEGIN_FLOAT", Operands: "aaaj"},
	OpIterateBeginVector2:               {Name: "ITERATE_BEGIN_VECTOR2", Operands: "aaaj"},
	OpIterateBeginVector2i:              {Name: "ITERATE_BEGIN_VECTOR2I", Operands: "aaaj"},
	OpIterateBeginVector3:               {Name: "ITERATE_BEGIN_VECTOR3", Operands: "aaaj"},
	OpIterateBeginVector3i:              {Name: "ITERATE_BEGIN_VECTOR3I", Operands: "aaaj"},
	OpIterateBeginString:                {Name: "ITERATE_BEGIN_STRING", Operands: "aaaj"},
	OpIterateBeginMap:                   {Name: "ITERATE_BEGIN_MAP", Operands: "aaaj"},
	OpIterateBeginArray:                 {Name: "ITERATE_BEGIN_ARRAY", Operands: "aaaj"},
	OpIterateBeginPackedByteArray:       {Name: "ITERATE_BEGIN_PACKED_BYTE_ARRAY", Operands: "aaaj"},
	OpIterateBeginPackedInt32Array:      {Name: "ITERATE_BEGIN_PACKED_INT32_ARRAY", Operands: "aaaj"},
	OpIterateBeginPackedInt64Array:      {Name: "ITERATE_BEGIN_PACKED_INT64_ARRAY", Operands: "aaaj"},
	OpIterateBeginPackedFloat32Array:    {Name: "ITERATE_BEGIN_PACKED_FLOAT32_ARRAY", Operands: "aaaj"},
	OpIterateBeginPackedFloat64Array:    {Name: "ITERATE_BEGIN_PACKED_FLOAT64_ARRAY", Operands: "aaaj"},
	OpIterateBeginPackedStringArray:     {Name: "ITERATE_BEGIN_PACKED_STRING_ARRAY", Operands: "aaaj"},
	OpIterateBeginObject:                {Name: "ITERATE_BEGIN_OBJECT", Operands: "aaaj"},
	OpIterateBeginRange:                 {Name: "ITERATE_BEGIN_RANGE", Operands: "aaaaaj"},
	OpIterate:                           {Name: "ITERATE", Operands: "aaaj"},
	OpIterateInt:                        {Name: "ITERATE_INT", Operands: "aaaj"},
	OpIterateFloat:                      {Name: "ITERATE_FLOAT", Operands: "aaaj"},
	OpIterateVector2:                    {Name: "ITERATE_VECTOR2", Operands: "aaaj"},
	OpIterateVector2i:                   {Name: "ITERATE_VECTOR2I", Operands: "aaaj"},
	OpIterateVector3:                    {Name: "ITERATE_VECTOR3", Operands: "aaaj"},
	OpIterateVector3i:                   {Name: "ITERATE_VECTOR3I", Operands: "aaaj"},
	OpIterateString:                     {Name: "ITERATE_STRING", Operands: "aaaj"},
	OpIterateMap:                        {Name: "ITERATE_MAP", Operands: "aaaj"},
	OpIterateArray:                      {Name: "ITERATE_ARRAY", Operands: "aaaj"},
	OpIteratePackedByteArray:            {Name: "ITERATE_PACKED_BYTE_ARRAY", Operands: "aaaj"},
	OpIteratePackedInt32Array:           {Name: "ITERATE_PACKED_INT32_ARRAY", Operands: "aaaj"},
	OpIteratePackedInt64Array:           {Name: "ITERATE_PACKED_INT64_ARRAY", Operands: "aaaj"},
	OpIteratePackedFloat32Array:         {Name: "ITERATE_PACKED_FLOAT32_ARRAY", Operands: "aaaj"},
	OpIteratePackedFloat64Array:         {Name: "ITERATE_PACKED_FLOAT64_ARRAY", Operands: "aaaj"},
	OpIteratePackedStringArray:          {Name: "ITERATE_PACKED_STRING_ARRAY", Operands: "aaaj"},
	OpIterateObject:                     {Name: "ITERATE_OBJECT", Operands: "aaaj"},
	OpIterateRange:                      {Name: "ITERATE_RANGE", Operands: "aaaaj"},
	OpStoreGlobal:                       {Name: "STORE_GLOBAL", Operands: "ag"},
	OpStoreNamedGlobal:                  {Name: "STORE_NAMED_GLOBAL", Operands: "an"},
	OpTypeAdjustBool:                    {Name: "TYPE_ADJUST_BOOL", Operands: "a"},
	OpTypeAdjustInt:                     {Name: "TYPE_ADJUST_INT", Operands: "a"},
	OpTypeAdjustFloat:                   {Name: "TYPE_ADJUST_FLOAT", Operands: "a"},
	OpTypeAdjustString:                  {Name: "TYPE_ADJUST_STRING", Operands: "a"},
	OpTypeAdjustVector2:                 {Name: "TYPE_ADJUST_VECTOR2", Operands: "a"},
	OpTypeAdjustVector2i:                {Name: "TYPE_ADJUST_VECTOR2I", Operands: "a"},
	OpTypeAdjustVector3:                 {Name: "TYPE_ADJUST_VECTOR3", Operands: "a"},
	OpTypeAdjustVector3i:                {Name: "TYPE_ADJUST_VECTOR3I", Operands: "a"},
	OpTypeAdjustObject:                  {Name: "TYPE_ADJUST_OBJECT", Operands: "a"},
	OpTypeAdjustCallable:                {Name: "TYPE_ADJUST_CALLABLE", Operands: "a"},
	OpTypeAdjustSignal:                  {Name: "TYPE_ADJUST_SIGNAL", Operands: "a"},
	OpTypeAdjustMap:                     {Name: "TYPE_ADJUST_MAP", Operands: "a"},
	OpTypeAdjustArray:                   {Name: "TYPE_ADJUST_ARRAY", Operands: "a"},
	OpTypeAdjustPackedByteArray:         {Name: "TYPE_ADJUST_PACKED_BYTE_ARRAY", Operands: "a"},
	OpTypeAdjustPackedInt32Array:        {Name: "TYPE_ADJUST_PACKED_INT32_ARRAY", Operands: "a"},
	OpTypeAdjustPackedInt64Array:        {Name: "TYPE_ADJUST_PACKED_INT64_ARRAY", Operands: "a"},
	OpTypeAdjustPackedFloat32Array:      {Name: "TYPE_ADJUST_PACKED_FLOAT32_ARRAY", Operands: "a"},
	OpTypeAdjustPackedFloat64Array:      {Name: "TYPE_ADJUST_PACKED_FLOAT64_ARRAY", Operands: "a"},
	OpTypeAdjustPackedStringArray:       {Name: "TYPE_ADJUST_PACKED_STRING_ARRAY", Operands: "a"},
	OpAssert:                            {Name: "ASSERT", Operands: "aa"},
	OpBreakpoint:                        {Name: "BREAKPOINT", Operands: ""},
	OpLine:                              {Name: "LINE", Operands: "l"},
	OpEnd:                               {Name: "END", Operands: ""},
}

// Info returns the layout of op, or nil for an unknown opcode.
func (op Opcode) Info() *OpcodeInfo {
	if op < 0 || op >= OpcodeMax {
		return nil
	}
	return &opcodeInfo[op]
}

func (op Opcode) String() string {
	if info := op.Info(); info != nil {
		return info.Name
	}
	return "UNKNOWN"
}

// ---------------------------------------------------------------------------
// Addresses
// ---------------------------------------------------------------------------

// Address spaces.
const (
	AddrStack    = 0
	AddrConstant = 1
	AddrMember   = 2

	addrShift = 24
	addrMask  = 1<<addrShift - 1
)

// Reserved stack slots.
const (
	SlotSelf   = 0
	SlotClass  = 1
	SlotNil    = 2
	SlotReturn = 3

	// FixedSlots is the number of reserved slots; arguments start here.
	FixedSlots = 4
)

// MakeAddress encodes an operand address.
func MakeAddress(space, index int) int32 {
	return int32(space<<addrShift | index&addrMask)
}

// SplitAddress decodes an operand address.
func SplitAddress(addr int32) (space, index int) {
	return int(addr) >> addrShift, int(addr) & addrMask
}

// iterBeginByType maps container types to their specialized ITERATE_BEGIN.
var iterBeginByType = map[Type]Opcode{
	TypeInt:                OpIterateBeginInt,
	TypeFloat:              OpIterateBeginFloat,
	TypeVector2:            OpIterateBeginVector2,
	TypeVector2i:           OpIterateBeginVector2i,
	TypeVector3:            OpIterateBeginVector3,
	TypeVector3i:           OpIterateBeginVector3i,
	TypeString:             OpIterateBeginString,
	TypeMap:                OpIterateBeginMap,
	TypeArray:              OpIterateBeginArray,
	TypePackedByteArray:    OpIterateBeginPackedByteArray,
	TypePackedInt32Array:   OpIterateBeginPackedInt32Array,
	TypePackedInt64Array:   OpIterateBeginPackedInt64Array,
	TypePackedFloat32Array: OpIterateBeginPackedFloat32Array,
	TypePackedFloat64Array: OpIterateBeginPackedFloat64Array,
	TypePackedStringArray:  OpIterateBeginPackedStringArray,
	TypeObject:             OpIterateBeginObject,
}

// iterTypeByOp maps every specialized ITERATE_BEGIN and ITERATE opcode to
// the container type it handles.
var iterTypeByOp = func() map[Opcode]Type {
	m := make(map[Opcode]Type, 2*len(iterBeginByType))
	for t, op := range iterBeginByType {
		m[op] = t
		m[IterateNextFor(op)] = t
	}
	return m
}()

// IterateBeginFor returns the specialized ITERATE_BEGIN opcode for t, or
// the generic one.
func IterateBeginFor(t Type) Opcode {
	if op, ok := iterBeginByType[t]; ok {
		return op
	}
	return OpIterateBegin
}

// IterateNextFor returns the ITERATE opcode paired with begin.
func IterateNextFor(begin Opcode) Opcode {
	if begin == OpIterateBeginRange {
		return OpIterateRange
	}
	return begin - OpIterateBegin + OpIterate
}

// TypeAdjustFor returns the TYPE_ADJUST opcode for t.
func TypeAdjustFor(t Type) (Opcode, bool) {
	if t <= TypeNil || t >= TypeMax {
		return 0, false
	}
	return OpTypeAdjustBool + Opcode(t-TypeBool), true
}
