package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Range 请求解析错误，供处理器映射状态码
var (
	// ErrMalformedRange 无法解析的 Range 头，按完整请求处理
	ErrMalformedRange = errors.New("malformed range header")
	// ErrSuffixRange 后缀形式（bytes=-N）不支持，映射 501
	ErrSuffixRange = errors.New("suffix ranges not supported")
	// ErrRangeNotSatisfiable 起始偏移超出资源末尾，映射 416
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

// RangeSpec 单个字节区间请求
// End 为 -1 表示无界（bytes=N-）
type RangeSpec struct {
	Start int64
	End   int64
}

// ParseRange 解析 Range 请求头
// 只支持单区间 bytes=start-end / bytes=start- 形式
// 空头返回 (nil, nil)；后缀形式返回 ErrSuffixRange；多区间与乱码返回 ErrMalformedRange
func ParseRange(header string) (*RangeSpec, error) {
	if header == "" {
		return nil, nil
	}

	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}

	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return nil, fmt.Errorf("%w: multiple ranges in %q", ErrMalformedRange, header)
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}

	if startStr == "" {
		// bytes=-N：相对末尾的区间，需要预知总长，不支持
		return nil, fmt.Errorf("%w: %q", ErrSuffixRange, header)
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("%w: bad start in %q", ErrMalformedRange, header)
	}

	end := int64(-1)
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return nil, fmt.Errorf("%w: bad end in %q", ErrMalformedRange, header)
		}
	}

	return &RangeSpec{Start: start, End: end}, nil
}

// Resolve 按已知总长收敛区间边界
// total 为 -1 时表示总长未知，仅保留请求自带的上界
// 起始偏移不小于总长时返回 ErrRangeNotSatisfiable
func (s *RangeSpec) Resolve(total int64) (start, end int64, err error) {
	start = s.Start
	end = s.End

	if total >= 0 {
		if start >= total {
			return 0, 0, fmt.Errorf("%w: start %d beyond length %d", ErrRangeNotSatisfiable, start, total)
		}
		if end < 0 || end >= total {
			end = total - 1
		}
	}

	return start, end, nil
}

// ContentRange 组装 Content-Range 响应头，total 为 -1 时以 * 占位
func ContentRange(start, end, total int64) string {
	totalStr := "*"
	if total >= 0 {
		totalStr = strconv.FormatInt(total, 10)
	}
	return fmt.Sprintf("bytes %d-%d/%s", start, end, totalStr)
}
