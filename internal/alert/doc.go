/*
Package alert 把传感器快照转换为告警信号。

position.go -- 位置标签 (例如 rack-0_lv-1) 的解析, 在接入设备时解析一次

spec.go -- 告警定义 Spec 与按类别注册的 Registry

sensor.go -- 内置的传感器告警: cabinet_temp_high / cabinet_temp_alert / oil_temp_high / oil_temp_critical

custom.go -- 通过 expr 表达式在配置中定义的告警
*/
package alert
