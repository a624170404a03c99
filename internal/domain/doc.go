// Package domain models tidal data published by the French hydrographic
// office (SHOM) and the water temperature forecasts published by Meteo Consult.
//
// # Data Sources
//
// Four date-keyed series are tracked per harbor:
//
//	tides         high/low water events, fetched as a range of days (hlt endpoint)
//	coefficients  daily tidal coefficients, fetched as a list of months (coeff endpoint)
//	water_levels  predicted water height every five minutes, one day per request (wl endpoint)
//	water_temp    hourly sea temperature forecast for a lat/lon (previsionsSpot endpoint)
//
// Harbors are identified by their SHOM code, e.g. "PORNICHET" or "BREST".
//
// # SHOM Conventions
//
// Dates are "YYYY-MM-DD" in the harbor's civil time (Europe/Paris for
// metropolitan France). Times are "HH:MM" for tide events and "HH:MM" or
// "HH:MM:SS" for water levels.
//
// A tide event is a four element array:
//
//	["tide.high", "05:12", "5.30", "85"]
//	["tide.low",  "11:40", "1.05", "---"]
//
// "--:--" marks a missing time and "---" a missing height or coefficient.
// Events carrying a missing time or height are never used to derive a view.
//
// Coefficients range from 20 to 120. A day is a spring tide at 100 or above
// and a neap tide at 40 or below. Only all-digit values take part in that
// classification; anything else is ignored rather than read as zero.
//
// # Derived View
//
// [BuildView] merges the four series into a [View] as of a given instant.
// The view is never persisted.
package domain
