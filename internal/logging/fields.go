package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 method/url/request_id 字段，供代理请求日志复用。
func RequestFields(method, target, requestID string) logrus.Fields {
	fields := logrus.Fields{
		"method": method,
		"url":    target,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// GenerationFields 提供生命周期日志的公共字段。
func GenerationFields(action, version string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"generation": version,
	}
}
