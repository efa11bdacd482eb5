// Package renderer formats weather data as plain text for terminals and
// status bars
package renderer

import (
	"fmt"
	"math"
	"strings"

	services "github.com/apimgr/weatherapi/src/server/service"
)

// Format selects the one-line layout
type Format int

const (
	// FormatFull: "London: +11°C light rain, wind 4m/s, humidity 81%"
	FormatFull Format = iota
	// FormatTemp: "+11°C"
	FormatTemp
	// FormatPlace: "London: +11°C"
	FormatPlace
)

// ParseFormat maps the ?format= query value, defaulting to FormatFull
func ParseFormat(value string) Format {
	switch strings.TrimSpace(value) {
	case "1":
		return FormatTemp
	case "2":
		return FormatPlace
	}
	return FormatFull
}

// OneLine renders current weather on a single line
func OneLine(current *services.CurrentWeather, units string, format Format) string {
	temp := signedTemp(current.Temperature, units)

	switch format {
	case FormatTemp:
		return temp + "\n"
	case FormatPlace:
		return fmt.Sprintf("%s: %s\n", current.Place, temp)
	}

	return fmt.Sprintf("%s: %s %s, wind %d%s, humidity %d%%\n",
		current.Place, temp, current.Description,
		int(math.Round(current.Wind)), speedUnit(units), current.Humidity)
}

func signedTemp(value float64, units string) string {
	t := int(math.Round(value))
	sign := "+"
	if t < 0 {
		sign = "-"
		t = -t
	}
	return fmt.Sprintf("%s%d%s", sign, t, temperatureUnit(units))
}

func temperatureUnit(units string) string {
	switch units {
	case services.UnitsImperial:
		return "°F"
	case services.UnitsStandard:
		return "K"
	}
	return "°C"
}

func speedUnit(units string) string {
	if units == services.UnitsImperial {
		return "mph"
	}
	return "m/s"
}
