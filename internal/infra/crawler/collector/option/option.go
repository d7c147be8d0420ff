package option

// CollyRequest 每次请求前附加的可选请求头信息
type CollyRequest struct {
	UserAgent string
	Headers   map[string]string
}
