package logging

import "github.com/sirupsen/logrus"

// staticFieldsHook 为每条日志补充进程级固定字段（服务名、外壳版本等），
// 已存在的同名字段不会被覆盖。
type staticFieldsHook struct {
	fields logrus.Fields
}

// NewStaticFieldsHook 返回一个 logrus.Hook，fields 在创建时被复制。
func NewStaticFieldsHook(fields logrus.Fields) logrus.Hook {
	copied := make(logrus.Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &staticFieldsHook{fields: copied}
}

func (h *staticFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *staticFieldsHook) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		if _, exists := entry.Data[k]; !exists {
			entry.Data[k] = v
		}
	}
	return nil
}
